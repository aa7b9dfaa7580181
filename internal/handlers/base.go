package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"commentry/internal/middleware"
	"commentry/internal/services"
	"commentry/internal/thread"
)

// Render helper to inject common variables like the admin flag
func Render(c *gin.Context, code int, name string, obj gin.H) {
	if obj == nil {
		obj = gin.H{}
	}
	obj["IsAdmin"] = middleware.IsAdmin(c)
	obj["CurrentPath"] = c.Request.URL.Path

	c.HTML(code, name, obj)
}

// Error helper
func RenderError(c *gin.Context, code int, message string) {
	Render(c, code, "error.html", gin.H{"Error": message})
}

// errorStatus maps service errors to HTTP status codes and a message that is
// safe to show. Storage failures never leak their cause.
func errorStatus(err error) (int, string) {
	switch {
	case thread.IsValidation(err),
		errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidTransition):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrDisabled):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, services.ErrCannotDelete),
		errors.Is(err, services.ErrAlreadyVoted),
		errors.Is(err, services.ErrConflict):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "internal error, please try again"
}

// JSONError writes the mapped error as {"error": ...}.
func JSONError(c *gin.Context, err error) {
	code, msg := errorStatus(err)
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}
