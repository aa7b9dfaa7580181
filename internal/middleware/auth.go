package middleware

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const AdminKey = "admin"

// AdminHeader lets API clients authenticate without a session cookie.
const AdminHeader = "X-Admin-Password"

// CheckPassword compares a plain password with the configured bcrypt hash.
// An empty hash disables admin access.
func CheckPassword(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// LoadAdmin marks the request as an admin request when the session says so
// or the admin header carries the right password.
func LoadAdmin(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if ok, _ := session.Get(AdminKey).(bool); ok {
			c.Set(AdminKey, true)
		} else if pw := c.GetHeader(AdminHeader); pw != "" && CheckPassword(hash, pw) {
			c.Set(AdminKey, true)
		}
		c.Next()
	}
}

// AdminRequired rejects requests LoadAdmin did not mark.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin login required"})
			return
		}
		c.Next()
	}
}

func IsAdmin(c *gin.Context) bool {
	return c.GetBool(AdminKey)
}
