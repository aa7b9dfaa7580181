package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"commentry/internal/middleware"
	"commentry/internal/models"
	"commentry/internal/services"
	"commentry/internal/thread"
	"commentry/internal/utils"
)

const (
	noticeKey   = "notice"
	noticeOKKey = "notice_ok"
)

// PageFinder loads the page a request is about.
type PageFinder interface {
	Page(ctx context.Context, id uint) (*models.Page, error)
}

type CommentHandler struct {
	svc   *services.CommentService
	pages PageFinder
}

func NewCommentHandler(svc *services.CommentService, pages PageFinder) *CommentHandler {
	return &CommentHandler{svc: svc, pages: pages}
}

// commentView is the public JSON shape of a comment. Email and IP are only
// filled for admins.
type commentView struct {
	ID        uint      `json:"id"`
	ParentID  uint      `json:"parent_id"`
	Depth     int       `json:"depth"`
	Status    string    `json:"status"`
	Cite      string    `json:"cite"`
	Website   string    `json:"website,omitempty"`
	Text      string    `json:"text"`
	Created   time.Time `json:"created"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	Stars     int       `json:"stars,omitempty"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
}

func newCommentView(coll *thread.Collection, c *models.Comment, admin bool) commentView {
	v := commentView{
		ID:        c.ID,
		ParentID:  c.ParentID,
		Status:    c.Status.String(),
		Cite:      c.Cite,
		Website:   c.Website,
		Text:      c.Text,
		Created:   c.CreatedAt,
		Upvotes:   c.Upvotes,
		Downvotes: c.Downvotes,
		Stars:     c.Stars,
	}
	if coll != nil {
		v.Depth = coll.Depth(c)
	}
	if admin {
		v.Email = c.Email
		v.IP = c.IP
	}
	return v
}

// scopeParam reads the (page, field) pair from the route.
func scopeParam(c *gin.Context) (models.Scope, error) {
	pageID := utils.StringToUint(c.Param("page_id"))
	field := c.Param("field")
	if pageID == 0 || field == "" {
		return models.Scope{}, fmt.Errorf("%w: page and field are required", services.ErrInvalidInput)
	}
	return models.Scope{PageID: pageID, Field: field}, nil
}

// List returns the comments of a field as a flat list in thread order,
// each with its depth. Readers only see published comments.
func (h *CommentHandler) List(c *gin.Context) {
	scope, err := scopeParam(c)
	if err != nil {
		JSONError(c, err)
		return
	}
	newest, _ := strconv.ParseBool(c.Query("newest"))
	opts := services.LoadOptions{
		Limit:  utils.StringToInt(c.Query("limit")),
		Offset: utils.StringToInt(c.Query("offset")),
		Newest: newest,
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		JSONError(c, fmt.Errorf("%w: negative limit or offset", services.ErrInvalidInput))
		return
	}

	coll, err := h.svc.Load(c.Request.Context(), scope, opts)
	if err != nil {
		JSONError(c, err)
		return
	}

	admin := middleware.IsAdmin(c)
	views := make([]commentView, 0, coll.Len())
	for _, item := range coll.Items() {
		if !admin && !item.Status.Published() {
			continue
		}
		views = append(views, newCommentView(coll, item, admin))
	}
	c.JSON(http.StatusOK, gin.H{
		"page_id":  scope.PageID,
		"field":    scope.Field,
		"total":    coll.Total,
		"limit":    coll.Limit,
		"offset":   coll.Offset,
		"comments": views,
	})
}

type submitRequest struct {
	ParentID uint           `form:"parent_id" json:"parent_id"`
	Text     string         `form:"text" json:"text"`
	Cite     string         `form:"cite" json:"cite"`
	Email    string         `form:"email" json:"email"`
	Website  string         `form:"website" json:"website"`
	Stars    int            `form:"stars" json:"stars"`
	Notify   string         `form:"notify" json:"notify"`
	Meta     map[string]any `form:"-" json:"meta"`
}

// Submit accepts a new comment as JSON or a regular form post.
func (h *CommentHandler) Submit(c *gin.Context) {
	scope, err := scopeParam(c)
	if err != nil {
		JSONError(c, err)
		return
	}
	var req submitRequest
	if err := c.ShouldBind(&req); err != nil {
		JSONError(c, fmt.Errorf("%w: %v", services.ErrInvalidInput, err))
		return
	}
	if _, err := h.pages.Page(c.Request.Context(), scope.PageID); err != nil {
		JSONError(c, err)
		return
	}

	comment, err := h.svc.Submit(c.Request.Context(), scope, services.SubmitInput{
		ParentID:  req.ParentID,
		Text:      req.Text,
		Cite:      req.Cite,
		Email:     req.Email,
		Website:   req.Website,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Stars:     req.Stars,
		Notify:    req.Notify,
		Meta:      req.Meta,
	})
	if err != nil {
		JSONError(c, err)
		return
	}

	message := "Your comment has been posted"
	if !comment.Status.Published() {
		message = "Your comment has been submitted and will appear once approved"
	}
	c.JSON(http.StatusCreated, gin.H{
		"comment": newCommentView(nil, comment, false),
		"message": message,
	})
}

// Vote counts an up or down vote from the client address.
func (h *CommentHandler) Vote(c *gin.Context) {
	scope, err := scopeParam(c)
	if err != nil {
		JSONError(c, err)
		return
	}
	var up bool
	switch c.Param("dir") {
	case "up":
		up = true
	case "down":
	default:
		JSONError(c, fmt.Errorf("%w: vote direction", services.ErrInvalidInput))
		return
	}
	comment, err := h.svc.Vote(c.Request.Context(), scope, utils.StringToUint(c.Param("id")), c.ClientIP(), up)
	if err != nil {
		JSONError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upvotes": comment.Upvotes, "downvotes": comment.Downvotes})
}

// Page is the landing page of action links. With comment_success in the query
// it applies the action, keeps the result as a flash notice and redirects to
// the clean URL so a reload cannot replay the link.
func (h *CommentHandler) Page(c *gin.Context) {
	ctx := c.Request.Context()
	page, err := h.pages.Page(ctx, utils.StringToUint(c.Param("page_id")))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			RenderError(c, http.StatusNotFound, "Page not found")
			return
		}
		log.Printf("[action] failed to load page %s: %v", c.Param("page_id"), err)
		RenderError(c, http.StatusInternalServerError, "Something went wrong, please try again")
		return
	}

	field := c.Query("field")
	if _, err := h.svc.Field(field); err != nil {
		field = h.svc.DefaultField()
	}
	session := sessions.Default(c)

	if action := c.Query("comment_success"); action != "" {
		res := h.svc.CheckAction(ctx, models.Scope{PageID: page.ID, Field: field}, services.ActionParams{
			Action:    action,
			PageID:    utils.StringToUint(c.Query("page_id")),
			Field:     c.Query("field"),
			Code:      c.Query("code"),
			Subcode:   c.Query("subcode"),
			CommentID: utils.StringToUint(c.Query("comment_id")),
			IP:        c.ClientIP(),
		})
		session.AddFlash(res.Message, noticeKey)
		session.Set(noticeOKKey, res.Success)
		if err := session.Save(); err != nil {
			// 无法写入 session 时直接展示结果
			Render(c, http.StatusOK, "page.html", gin.H{"Page": page, "Notice": res.Message, "Success": res.Success})
			return
		}
		c.Redirect(http.StatusSeeOther, fmt.Sprintf("/p/%d", page.ID))
		return
	}

	obj := gin.H{"Page": page, "Notice": "", "Success": false}
	if flashes := session.Flashes(noticeKey); len(flashes) > 0 {
		if msg, ok := flashes[0].(string); ok {
			obj["Notice"] = msg
		}
		obj["Success"], _ = session.Get(noticeOKKey).(bool)
		session.Delete(noticeOKKey)
		session.Save()
	}
	Render(c, http.StatusOK, "page.html", obj)
}
