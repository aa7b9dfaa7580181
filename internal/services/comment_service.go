package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"commentry/internal/config"
	"commentry/internal/models"
	"commentry/internal/thread"
	"commentry/internal/utils"
)

// SubmitInput is a comment as posted by a reader, before sanitizing.
type SubmitInput struct {
	ParentID  uint
	Text      string
	Cite      string
	Email     string
	Website   string
	IP        string
	UserAgent string
	Stars     int
	Notify    string // "", "reply" or "all"
	UserID    uint
	Meta      map[string]any
}

// CommentService runs submission, moderation and subscription changes for every configured field.
type CommentService struct {
	store      Store
	dir        Directory
	notifier   Notifier
	spam       SpamFilter
	recipients *RecipientResolver
	digester   *CodeDigester
	fields     map[string]models.FieldConfig
	fieldNames []string
	now        func() time.Time
}

func NewCommentService(store Store, dir Directory, notifier Notifier, spam SpamFilter, cfg *config.Config) *CommentService {
	if spam == nil {
		spam = NopSpamFilter{}
	}
	if cfg.CodeSecret == "" {
		log.Println("[comments] CODE_SECRET is empty, approval code digests are unkeyed")
	}
	return &CommentService{
		store:      store,
		dir:        dir,
		notifier:   notifier,
		spam:       spam,
		recipients: NewRecipientResolver(dir, utils.NewTTLCache[[]string](256)),
		digester:   NewCodeDigester(cfg.CodeSecret),
		fields:     cfg.Fields,
		fieldNames: cfg.FieldNames,
		now:        time.Now,
	}
}

// Field returns the configuration of a comments field, ErrNotFound if it is not configured.
func (s *CommentService) Field(name string) (models.FieldConfig, error) {
	f, ok := s.fields[name]
	if !ok {
		return models.FieldConfig{}, fmt.Errorf("%w: field %q", ErrNotFound, name)
	}
	return f, nil
}

// DefaultField is the first configured field.
func (s *CommentService) DefaultField() string {
	if len(s.fieldNames) == 0 {
		return ""
	}
	return s.fieldNames[0]
}

func (s *CommentService) Load(ctx context.Context, scope models.Scope, opts LoadOptions) (*thread.Collection, error) {
	field, err := s.Field(scope.Field)
	if err != nil {
		return nil, err
	}
	opts.Newest = opts.Newest || field.SortNewest
	coll, err := s.store.Load(ctx, scope, opts)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return coll, nil
}

// Submit validates, classifies and stores a new comment, then queues its notifications.
func (s *CommentService) Submit(ctx context.Context, scope models.Scope, in SubmitInput) (*models.Comment, error) {
	field, err := s.Field(scope.Field)
	if err != nil {
		return nil, err
	}
	if scope.PageID == 0 {
		return nil, fmt.Errorf("%w: page is required", ErrInvalidInput)
	}

	c := &models.Comment{
		PageID:         scope.PageID,
		Field:          scope.Field,
		Text:           utils.CleanText(in.Text),
		Cite:           utils.CleanCite(in.Cite),
		Email:          utils.CleanEmail(in.Email),
		IP:             utils.Truncate(strings.TrimSpace(in.IP), 45),
		UserAgent:      utils.CleanUserAgent(in.UserAgent),
		CreatedUsersID: in.UserID,
		Meta:           in.Meta,
	}
	switch {
	case c.Text == "":
		return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
	case c.Cite == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case c.Email == "":
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if field.UseWebsite {
		c.Website = utils.CleanWebsite(in.Website)
	}
	if field.UseStars {
		if in.Stars < 0 || in.Stars > 5 {
			return nil, fmt.Errorf("%w: stars must be between 0 and 5", ErrInvalidInput)
		}
		c.Stars = in.Stars
	}

	// 1. threading
	coll, err := s.store.Load(ctx, scope, LoadOptions{})
	if err != nil {
		return nil, persistenceErr(err)
	}
	requested := in.ParentID
	if p := coll.Get(requested); p != nil && !p.Status.Published() {
		requested = 0
	}
	parentID, err := thread.AssignParent(coll, c, requested, field.MaxDepth)
	if err != nil {
		return nil, err
	}
	c.ParentID = parentID
	c.Sort = coll.Len()

	// 2. status
	isSpam, err := s.spam.CheckSpam(ctx, c)
	if err != nil {
		log.Printf("[comments] spam check failed, treating as ham: %v", err)
		isSpam = false
	}
	c.Status = InitialStatus(isSpam, field.ModerationMode)
	if c.Status == models.StatusPending && field.ModerationMode == models.ModerationPendingOnly && s.knownAuthor(ctx, c.Email) {
		c.Status = models.StatusApproved
	}

	subPage := scope.PageID
	if field.SubcodeSiteWide {
		subPage = 0
	}
	if field.UseNotify {
		switch in.Notify {
		case "reply":
			c.Flags = c.Flags.Set(models.FlagNotifyReply)
		case "all":
			c.Flags = c.Flags.Set(models.FlagNotifyAll)
		}
		if c.Notifies() && (!field.DoubleOptIn || s.confirmedAuthor(ctx, c.Email, subPage)) {
			c.Flags = c.Flags.Set(models.FlagNotifyConfirmed)
		}
		if !c.Status.Published() {
			c.Flags = c.Flags.Set(models.FlagNotifyQueued)
		}
	}

	// 3. codes
	code, err := NewCode()
	if err != nil {
		return nil, fmt.Errorf("mint code: %w", err)
	}
	digest := s.digester.Digest(code)
	c.Code = &digest

	subcode, err := s.store.SubcodeForEmail(ctx, c.Email, subPage)
	if err != nil {
		return nil, persistenceErr(err)
	}
	if subcode == "" {
		if subcode, err = NewSubcode(); err != nil {
			return nil, fmt.Errorf("mint subcode: %w", err)
		}
	}
	c.Subcode = subcode

	// 4. persistence
	if err := s.store.Save(ctx, c, field.MaxDepth); err != nil {
		if thread.IsValidation(err) {
			return nil, err
		}
		return nil, persistenceErr(err)
	}
	coll.Add(c)
	log.Printf("[comments] comment %d saved on page %d/%s as %s", c.ID, c.PageID, c.Field, c.Status)

	// 5. notifications
	s.notifyNew(ctx, field, coll, c, code)
	return c, nil
}

// SetStatus is the authenticated moderation path.
func (s *CommentService) SetStatus(ctx context.Context, scope models.Scope, id uint, status models.Status) (*models.Comment, error) {
	field, err := s.Field(scope.Field)
	if err != nil {
		return nil, err
	}
	c, err := s.get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if c.Status == status {
		return c, nil
	}
	from := c.Status
	if err := applyStatus(c, status); err != nil {
		return nil, fmt.Errorf("%w: %s to %s", err, from, status)
	}
	if err := s.store.UpdateStatus(ctx, scope, c.ID, from, c.Status); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, persistenceErr(err)
	}
	log.Printf("[comments] comment %d status %s -> %s", c.ID, from, c.Status)
	s.afterStatusChange(ctx, field, c)
	return c, nil
}

// Trash marks a comment for deletion.
func (s *CommentService) Trash(ctx context.Context, scope models.Scope, id uint) (*models.Comment, error) {
	return s.SetStatus(ctx, scope, id, models.StatusDeletePending)
}

// Delete physically removes a comment whose replies are all pending deletion.
func (s *CommentService) Delete(ctx context.Context, scope models.Scope, id uint) error {
	c, err := s.get(ctx, scope, id)
	if err != nil {
		return err
	}
	coll, err := s.store.Load(ctx, scope, LoadOptions{})
	if err != nil {
		return persistenceErr(err)
	}
	if !thread.CanDelete(coll, c) {
		return ErrCannotDelete
	}
	if err := s.store.Delete(ctx, c); err != nil {
		if errors.Is(err, ErrCannotDelete) || errors.Is(err, ErrNotFound) {
			return err
		}
		return persistenceErr(err)
	}
	log.Printf("[comments] comment %d deleted from page %d/%s", c.ID, c.PageID, c.Field)
	return nil
}

// Vote counts one up or down vote per ip on a published comment.
func (s *CommentService) Vote(ctx context.Context, scope models.Scope, id uint, ip string, up bool) (*models.Comment, error) {
	field, err := s.Field(scope.Field)
	if err != nil {
		return nil, err
	}
	if !field.UseVotes {
		return nil, ErrDisabled
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, fmt.Errorf("%w: missing client address", ErrInvalidInput)
	}
	c, err := s.get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Published() {
		return nil, ErrNotFound
	}

	value := -1
	if up {
		value = 1
	}
	ok, err := s.store.RecordVote(ctx, c.ID, ip, value)
	if err != nil {
		return nil, persistenceErr(err)
	}
	if !ok {
		return nil, ErrAlreadyVoted
	}
	if up {
		c.Upvotes++
	} else {
		c.Downvotes++
	}
	return c, nil
}

// PurgeSpam removes old spam from every field that has a retention configured.
func (s *CommentService) PurgeSpam(ctx context.Context) (int64, error) {
	var total int64
	for _, name := range s.fieldNames {
		field := s.fields[name]
		if field.DeleteSpamAfterDays <= 0 {
			continue
		}
		before := s.now().AddDate(0, 0, -field.DeleteSpamAfterDays)
		n, err := s.store.PurgeSpam(ctx, models.Scope{Field: name}, before)
		if err != nil {
			return total, persistenceErr(err)
		}
		total += n
	}
	if total > 0 {
		log.Printf("[comments] purged %d spam comments", total)
	}
	return total, nil
}

// ModifyNotifications enables (confirms) or disables the subscriptions of the
// email bound to subcode. Disabling clears NotifyAll before NotifyReply, one
// level per call. It reports whether any subscription matched.
func (s *CommentService) ModifyNotifications(ctx context.Context, pageID uint, subcode string, enable, allPages bool) (bool, error) {
	if !ValidSubcode(subcode) {
		return false, nil
	}
	email, err := s.store.EmailForSubcode(ctx, subcode, pageID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, persistenceErr(err)
	}

	scopePage := pageID
	if allPages {
		scopePage = 0
	}
	comments, err := s.store.CommentsByEmail(ctx, email, scopePage)
	if err != nil {
		return false, persistenceErr(err)
	}

	matched := false
	for _, c := range comments {
		var set, clear models.Flags
		if enable {
			if !c.Notifies() {
				continue
			}
			set = models.FlagNotifyConfirmed
		} else {
			switch {
			case c.Flags.Has(models.FlagNotifyAll):
				clear = models.FlagNotifyAll
			case c.Flags.Has(models.FlagNotifyReply):
				clear = models.FlagNotifyReply
			default:
				continue
			}
		}
		matched = true
		if c.Flags.Set(set).Clear(clear) == c.Flags {
			continue
		}
		if _, err := s.store.ChangeFlags(ctx, c.ID, set, clear); err != nil && !errors.Is(err, ErrNotFound) {
			return false, persistenceErr(err)
		}
		c.Flags = c.Flags.Set(set).Clear(clear)
	}
	return matched, nil
}

func (s *CommentService) get(ctx context.Context, scope models.Scope, id uint) (*models.Comment, error) {
	c, err := s.store.Get(ctx, scope, id)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, persistenceErr(err)
	}
	return c, nil
}

// knownAuthor reports whether email already has a published comment anywhere.
func (s *CommentService) knownAuthor(ctx context.Context, email string) bool {
	comments, err := s.store.CommentsByEmail(ctx, email, 0)
	if err != nil {
		log.Printf("[comments] author lookup failed: %v", err)
		return false
	}
	for _, c := range comments {
		if c.Status.Published() {
			return true
		}
	}
	return false
}

// confirmedAuthor reports whether email already confirmed a subscription within pageID (0 = site-wide).
func (s *CommentService) confirmedAuthor(ctx context.Context, email string, pageID uint) bool {
	comments, err := s.store.CommentsByEmail(ctx, email, pageID)
	if err != nil {
		log.Printf("[comments] subscription lookup failed: %v", err)
		return false
	}
	for _, c := range comments {
		if c.Flags.Has(models.FlagNotifyConfirmed) {
			return true
		}
	}
	return false
}

// afterStatusChange reports classifier corrections and releases subscriber
// mail that was held back while the comment was unpublished.
func (s *CommentService) afterStatusChange(ctx context.Context, field models.FieldConfig, c *models.Comment) {
	spamFeedback(ctx, s.spam, c)

	if !c.Status.Published() || !c.Flags.Has(models.FlagNotifyQueued) {
		return
	}
	released, err := s.store.ChangeFlags(ctx, c.ID, 0, models.FlagNotifyQueued)
	if err != nil {
		log.Printf("[comments] failed to release queued notifications for comment %d: %v", c.ID, err)
		return
	}
	c.Flags = c.Flags.Clear(models.FlagNotifyQueued)
	// 已被并发请求释放
	if !released {
		return
	}
	if !field.UseNotify || s.notifier == nil {
		return
	}
	coll, err := s.store.Load(ctx, c.Scope(), LoadOptions{})
	if err != nil {
		log.Printf("[comments] failed to load thread of comment %d: %v", c.ID, err)
		return
	}
	coll.Add(c)
	s.notifySubscribers(field, coll, c, s.pageURL(ctx, c.PageID))
}

func (s *CommentService) notifyNew(ctx context.Context, field models.FieldConfig, coll *thread.Collection, c *models.Comment, code string) {
	if s.notifier == nil {
		return
	}
	pageURL := s.pageURL(ctx, c.PageID)
	commentURL := coll.URL(c, pageURL)

	if c.Status != models.StatusSpam || field.NotifySpamToAdmin {
		// 收件人配置错误只记录日志，不影响评论提交
		recipients, _ := s.recipients.Resolve(ctx, field.NotificationEmail, c.PageID)
		for _, r := range recipients {
			n, err := AdminNotification(r, c, pageURL, commentURL, code)
			if err != nil {
				log.Printf("[comments] admin notification for comment %d: %v", c.ID, err)
				continue
			}
			s.notifier.Notify(n)
		}
	}

	if !field.UseNotify {
		return
	}
	if c.Status.Published() {
		s.notifySubscribers(field, coll, c, pageURL)
	}
	if field.DoubleOptIn && c.Notifies() && !c.Flags.Has(models.FlagNotifyConfirmed) {
		n, err := ConfirmNotification(c, pageURL)
		if err != nil {
			log.Printf("[comments] confirm notification for comment %d: %v", c.ID, err)
			return
		}
		s.notifier.Notify(n)
	}
}

func (s *CommentService) notifySubscribers(field models.FieldConfig, coll *thread.Collection, c *models.Comment, pageURL string) {
	commentURL := coll.URL(c, pageURL)
	for _, t := range SubscriberTargets(coll, c, field.DoubleOptIn) {
		n, err := SubscriberNotification(t, c, pageURL, commentURL)
		if err != nil {
			log.Printf("[comments] subscriber notification for comment %d: %v", c.ID, err)
			continue
		}
		s.notifier.Notify(n)
	}
}

func (s *CommentService) pageURL(ctx context.Context, pageID uint) string {
	if s.dir == nil {
		return ""
	}
	u, err := s.dir.PageURL(ctx, pageID)
	if err != nil {
		log.Printf("[comments] page %d url: %v", pageID, err)
		return ""
	}
	return u
}

func persistenceErr(err error) error {
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
