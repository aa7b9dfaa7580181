package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"commentry/internal/middleware"
	"commentry/internal/models"
	"commentry/internal/services"
	"commentry/internal/utils"
)

// AdminHandler 管理员审核接口
type AdminHandler struct {
	svc          *services.CommentService
	passwordHash string
}

func NewAdminHandler(svc *services.CommentService, passwordHash string) *AdminHandler {
	return &AdminHandler{svc: svc, passwordHash: passwordHash}
}

type loginRequest struct {
	Password string `form:"password" json:"password"`
}

func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil || !middleware.CheckPassword(h.passwordHash, req.Password) {
		log.Printf("[admin] failed login from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	session := sessions.Default(c)
	session.Set(middleware.AdminKey, true)
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AdminHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type statusRequest struct {
	Status string `form:"status" json:"status"`
}

// SetStatus moves a comment to the status named in the body.
func (h *AdminHandler) SetStatus(c *gin.Context) {
	scope, err := scopeParam(c)
	if err != nil {
		JSONError(c, err)
		return
	}
	var req statusRequest
	if err := c.ShouldBind(&req); err != nil {
		JSONError(c, fmt.Errorf("%w: %v", services.ErrInvalidInput, err))
		return
	}
	status, ok := models.ParseStatus(req.Status)
	if !ok {
		JSONError(c, fmt.Errorf("%w: unknown status %q", services.ErrInvalidInput, req.Status))
		return
	}

	comment, err := h.svc.SetStatus(c.Request.Context(), scope, utils.StringToUint(c.Param("id")), status)
	if err != nil {
		JSONError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comment": newCommentView(nil, comment, true)})
}

func (h *AdminHandler) Trash(c *gin.Context) {
	scope, err := scopeParam(c)
	if err != nil {
		JSONError(c, err)
		return
	}
	comment, err := h.svc.Trash(c.Request.Context(), scope, utils.StringToUint(c.Param("id")))
	if err != nil {
		JSONError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comment": newCommentView(nil, comment, true)})
}

func (h *AdminHandler) Delete(c *gin.Context) {
	scope, err := scopeParam(c)
	if err != nil {
		JSONError(c, err)
		return
	}
	if err := h.svc.Delete(c.Request.Context(), scope, utils.StringToUint(c.Param("id"))); err != nil {
		JSONError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PurgeSpam runs the spam retention sweep on demand.
func (h *AdminHandler) PurgeSpam(c *gin.Context) {
	n, err := h.svc.PurgeSpam(c.Request.Context())
	if err != nil {
		JSONError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
