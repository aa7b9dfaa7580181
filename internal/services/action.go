package services

import (
	"context"
	"errors"
	"log"
	"strings"

	"commentry/internal/models"
)

const (
	MsgInvalidCode    = "Invalid approval code or code has already been used"
	MsgInvalidSubcode = "Invalid or expired subscription link"
	MsgActionFailed   = "The action could not be applied, please try again"
)

// ActionParams are the query parameters of an action link.
type ActionParams struct {
	Action    string // comment_success
	PageID    uint
	Field     string
	Code      string
	Subcode   string
	CommentID uint
	IP        string
}

// ActionResult is what the action link page reports. Valid is false only for
// unknown actions.
type ActionResult struct {
	Valid     bool   `json:"valid"`
	Success   bool   `json:"success"`
	Action    string `json:"action"`
	Message   string `json:"message"`
	PageID    uint   `json:"page_id"`
	FieldName string `json:"field"`
	CommentID uint   `json:"comment_id"`
}

var codeActions = map[string]models.Status{
	"approve": models.StatusApproved,
	"spam":    models.StatusSpam,
	"pending": models.StatusPending,
}

// CheckAction applies an emailed action link on the page identified by current.
func (s *CommentService) CheckAction(ctx context.Context, current models.Scope, p ActionParams) ActionResult {
	action := strings.ToLower(strings.TrimSpace(p.Action))
	res := ActionResult{
		Action:    action,
		PageID:    p.PageID,
		FieldName: p.Field,
		CommentID: p.CommentID,
	}

	switch action {
	case "confirm", "unsub":
		res.Valid = true
		return s.subscriberAction(ctx, current, p, res)
	case "upvote", "downvote":
		res.Valid = true
		return s.voteAction(ctx, current, p, res)
	}
	if _, ok := codeActions[action]; ok {
		res.Valid = true
		return s.codeAction(ctx, current, p, res)
	}

	res.Action = ""
	res.Message = "Unknown action"
	return res
}

func (s *CommentService) codeAction(ctx context.Context, current models.Scope, p ActionParams, res ActionResult) ActionResult {
	res.Message = MsgInvalidCode
	if p.PageID == 0 || p.PageID != current.PageID || p.Field != current.Field || !ValidCode(p.Code) {
		return res
	}
	field, err := s.Field(current.Field)
	if err != nil {
		return res
	}

	to := codeActions[res.Action]
	c, err := s.store.ConsumeCode(ctx, current, s.digester.Digest(p.Code), func(c *models.Comment) error {
		return applyStatus(c, to)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidTransition):
		log.Printf("[action] %s rejected on page %d/%s", res.Action, current.PageID, current.Field)
		return res
	default:
		log.Printf("[action] %s failed on page %d/%s: %v", res.Action, current.PageID, current.Field, err)
		res.Message = MsgActionFailed
		return res
	}

	log.Printf("[action] %s applied to comment %d", res.Action, c.ID)
	s.afterStatusChange(ctx, field, c)

	res.Success = true
	res.CommentID = c.ID
	switch res.Action {
	case "approve":
		res.Message = "Comment approved"
	case "spam":
		res.Message = "Comment marked as spam"
	case "pending":
		res.Message = "Comment set to pending"
	}
	return res
}

func (s *CommentService) subscriberAction(ctx context.Context, current models.Scope, p ActionParams, res ActionResult) ActionResult {
	res.Message = MsgInvalidSubcode
	if p.Subcode == "" {
		return res
	}

	fieldName := current.Field
	if fieldName == "" {
		fieldName = s.DefaultField()
	}
	allPages := false
	if field, err := s.Field(fieldName); err == nil {
		allPages = field.SubcodeSiteWide
	}

	enable := res.Action == "confirm"
	ok, err := s.ModifyNotifications(ctx, current.PageID, p.Subcode, enable, allPages)
	if err != nil {
		log.Printf("[action] %s failed on page %d: %v", res.Action, current.PageID, err)
		res.Message = MsgActionFailed
		return res
	}
	if !ok {
		return res
	}

	log.Printf("[action] %s applied on page %d", res.Action, current.PageID)
	res.Success = true
	if enable {
		res.Message = "Your subscription is confirmed"
	} else {
		res.Message = "You have been unsubscribed"
	}
	return res
}

func (s *CommentService) voteAction(ctx context.Context, current models.Scope, p ActionParams, res ActionResult) ActionResult {
	c, err := s.Vote(ctx, current, p.CommentID, p.IP, res.Action == "upvote")
	switch {
	case err == nil:
		res.Success = true
		res.CommentID = c.ID
		res.Message = "Thanks for your vote"
	case errors.Is(err, ErrAlreadyVoted):
		res.Message = "You already voted on this comment"
	case errors.Is(err, ErrPersistence):
		log.Printf("[action] vote failed on comment %d: %v", p.CommentID, err)
		res.Message = MsgActionFailed
	default:
		res.Message = "Voting is not available for this comment"
	}
	return res
}
