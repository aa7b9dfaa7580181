package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"commentry/internal/models"
	"commentry/internal/thread"
)

var testScope = models.Scope{PageID: 5, Field: "comments"}

func validInput(text string) SubmitInput {
	return SubmitInput{
		Text:      text,
		Cite:      "Ada",
		Email:     "ada@example.com",
		IP:        "10.0.0.1",
		UserAgent: "test",
	}
}

func TestSubmitModeratedRoot(t *testing.T) {
	env := newTestEnv(testField(nil))

	c, err := env.svc.Submit(context.Background(), testScope, validInput("Hello there"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("comment was not persisted")
	}
	if c.Status != models.StatusPending {
		t.Errorf("status = %v, want pending", c.Status)
	}
	if !c.HasCode() {
		t.Fatal("approval code missing")
	}
	if len(*c.Code) != 64 {
		t.Errorf("stored code should be a hex digest, got %d chars", len(*c.Code))
	}
	if len(c.Subcode) != 40 {
		t.Errorf("subcode length = %d, want 40", len(c.Subcode))
	}
	if !c.Flags.Has(models.FlagNotifyQueued) {
		t.Error("unpublished comment should hold subscriber mail back")
	}

	admin := env.notifier.ofType(models.NotificationTypeAdmin)
	if len(admin) != 1 {
		t.Fatalf("admin notifications = %d, want 1", len(admin))
	}
	n := admin[0]
	if n.Recipient != "admin@example.com" || n.UnsubscribeURL != "" {
		t.Errorf("unexpected admin notification: %+v", n)
	}
	if !strings.Contains(n.BodyText, "comment_success=approve") || !strings.Contains(n.BodyHTML, "comment_success=spam") {
		t.Errorf("admin mail lacks action links:\n%s", n.BodyText)
	}
	if strings.Contains(n.BodyText, *c.Code) {
		t.Error("admin mail must carry the plaintext code, not the stored digest")
	}
}

func TestSubmitUnmoderatedNotifiesSubscribers(t *testing.T) {
	env := newTestEnv(testField(func(f *models.FieldConfig) {
		f.ModerationMode = models.ModerationNone
	}))
	ctx := context.Background()

	root := &models.Comment{PageID: 5, Field: "comments", Text: "root", Status: models.StatusApproved,
		Email: "grace@example.com", Cite: "Grace", Subcode: strings.Repeat("a", 40),
		Flags: models.FlagNotifyReply | models.FlagNotifyConfirmed}
	env.store.seed(root)
	watcher := &models.Comment{PageID: 5, Field: "comments", Text: "watching", Status: models.StatusApproved,
		Email: "linus@example.com", Cite: "Linus", Subcode: strings.Repeat("b", 40),
		Flags: models.FlagNotifyAll | models.FlagNotifyConfirmed}
	env.store.seed(watcher)
	unconfirmed := &models.Comment{PageID: 5, Field: "comments", Text: "maybe", Status: models.StatusApproved,
		Email: "ken@example.com", Subcode: strings.Repeat("c", 40), Flags: models.FlagNotifyAll}
	env.store.seed(unconfirmed)

	in := validInput("a reply")
	in.ParentID = root.ID
	c, err := env.svc.Submit(ctx, testScope, in)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if c.Status != models.StatusApproved {
		t.Fatalf("status = %v, want approved", c.Status)
	}
	if c.Flags.Has(models.FlagNotifyQueued) {
		t.Error("published comment should not be queued")
	}

	replies := env.notifier.ofType(models.NotificationTypeReply)
	if len(replies) != 1 || replies[0].Recipient != "grace@example.com" {
		t.Errorf("reply notifications = %+v", replies)
	}
	all := env.notifier.ofType(models.NotificationTypeAll)
	if len(all) != 1 || all[0].Recipient != "linus@example.com" {
		t.Errorf("all notifications = %+v", all)
	}
	if !strings.Contains(all[0].UnsubscribeURL, "subcode="+watcher.Subcode) {
		t.Errorf("unsubscribe url = %q", all[0].UnsubscribeURL)
	}
}

func TestSubmitSpam(t *testing.T) {
	env := newTestEnv(testField(nil))

	c, err := env.svc.Submit(context.Background(), testScope, validInput("buy spam now"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if c.Status != models.StatusSpam {
		t.Errorf("status = %v, want spam", c.Status)
	}
	if n := len(env.notifier.ofType(models.NotificationTypeAdmin)); n != 0 {
		t.Errorf("admin notified about spam %d times", n)
	}

	env = newTestEnv(testField(func(f *models.FieldConfig) { f.NotifySpamToAdmin = true }))
	if _, err := env.svc.Submit(context.Background(), testScope, validInput("buy spam now")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if n := len(env.notifier.ofType(models.NotificationTypeAdmin)); n != 1 {
		t.Errorf("admin notifications = %d, want 1 with NotifySpamToAdmin", n)
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name  string
		field models.FieldConfig
		input func(*SubmitInput)
		want  error
	}{
		{"empty text", testField(nil), func(in *SubmitInput) { in.Text = "<b></b>" }, ErrInvalidInput},
		{"missing name", testField(nil), func(in *SubmitInput) { in.Cite = "" }, ErrInvalidInput},
		{"bad email", testField(nil), func(in *SubmitInput) { in.Email = "nope" }, ErrInvalidInput},
		{"stars out of range", testField(func(f *models.FieldConfig) { f.UseStars = true }), func(in *SubmitInput) { in.Stars = 6 }, ErrInvalidInput},
		{"threading disabled", testField(func(f *models.FieldConfig) { f.MaxDepth = 0 }), func(in *SubmitInput) { in.ParentID = 1 }, thread.ErrThreadingDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(tt.field)
			env.store.seed(&models.Comment{PageID: 5, Field: "comments", Text: "root", Status: models.StatusApproved})
			in := validInput("text")
			tt.input(&in)
			_, err := env.svc.Submit(context.Background(), testScope, in)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	env := newTestEnv(testField(nil))
	if _, err := env.svc.Submit(context.Background(), models.Scope{PageID: 5, Field: "reviews"}, validInput("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown field err = %v, want ErrNotFound", err)
	}
}

func TestSubmitReparentsAtMaxDepth(t *testing.T) {
	env := newTestEnv(testField(func(f *models.FieldConfig) {
		f.MaxDepth = 2
		f.ModerationMode = models.ModerationNone
	}))
	ctx := context.Background()

	root := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusApproved}
	env.store.seed(root)
	mid := &models.Comment{PageID: 5, Field: "comments", ParentID: root.ID, Status: models.StatusApproved}
	env.store.seed(mid)
	leaf := &models.Comment{PageID: 5, Field: "comments", ParentID: mid.ID, Status: models.StatusApproved}
	env.store.seed(leaf)

	in := validInput("deep reply")
	in.ParentID = leaf.ID
	c, err := env.svc.Submit(ctx, testScope, in)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if c.ParentID != mid.ID {
		t.Errorf("parent = %d, want grandparent %d", c.ParentID, mid.ID)
	}
}

func TestSubmitReplyToUnpublishedParentBecomesRoot(t *testing.T) {
	env := newTestEnv(testField(nil))
	parent := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusSpam}
	env.store.seed(parent)

	in := validInput("reply")
	in.ParentID = parent.ID
	c, err := env.svc.Submit(context.Background(), testScope, in)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if c.ParentID != 0 {
		t.Errorf("parent = %d, want 0", c.ParentID)
	}
}

func TestSubmitPendingOnlyApprovesKnownAuthors(t *testing.T) {
	env := newTestEnv(testField(func(f *models.FieldConfig) { f.ModerationMode = models.ModerationPendingOnly }))
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, testScope, validInput("first"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != models.StatusPending {
		t.Fatalf("first comment status = %v, want pending", first.Status)
	}
	if _, err := env.svc.SetStatus(ctx, testScope, first.ID, models.StatusApproved); err != nil {
		t.Fatal(err)
	}
	second, err := env.svc.Submit(ctx, testScope, validInput("second"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != models.StatusApproved {
		t.Errorf("returning author status = %v, want approved", second.Status)
	}
}

func TestSubmitDoubleOptIn(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()

	in := validInput("subscribe me")
	in.Notify = "reply"
	c, err := env.svc.Submit(ctx, testScope, in)
	if err != nil {
		t.Fatal(err)
	}
	if c.Flags.Has(models.FlagNotifyConfirmed) {
		t.Error("new subscriber should not be confirmed yet")
	}
	confirms := env.notifier.ofType(models.NotificationTypeConfirm)
	if len(confirms) != 1 || !strings.Contains(confirms[0].BodyText, "comment_success=confirm") {
		t.Fatalf("confirm notifications = %+v", confirms)
	}

	ok, err := env.svc.ModifyNotifications(ctx, testScope.PageID, c.Subcode, true, false)
	if err != nil || !ok {
		t.Fatalf("confirm = %v, %v", ok, err)
	}

	env.notifier.reset()
	again, err := env.svc.Submit(ctx, testScope, in)
	if err != nil {
		t.Fatal(err)
	}
	if again.Subcode != c.Subcode {
		t.Error("subcode should be reused for the same email")
	}
	if !again.Flags.Has(models.FlagNotifyConfirmed) {
		t.Error("confirmed email should be auto-confirmed")
	}
	if n := len(env.notifier.ofType(models.NotificationTypeConfirm)); n != 0 {
		t.Errorf("confirm mail sent again %d times", n)
	}
}

func TestSubmitPersistenceFailure(t *testing.T) {
	env := newTestEnv(testField(nil))
	env.store.err = errors.New("disk full")

	_, err := env.svc.Submit(context.Background(), testScope, validInput("hello"))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if len(env.notifier.sent) != 0 {
		t.Error("nothing may be sent when persistence fails")
	}
}

func TestSetStatusSpamFeedback(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()
	c := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusApproved, Email: "a@example.com"}
	env.store.seed(c)

	if _, err := env.svc.SetStatus(ctx, testScope, c.ID, models.StatusSpam); err != nil {
		t.Fatal(err)
	}
	if len(env.spam.falseNegatives) != 1 {
		t.Errorf("false negatives = %v, want one report", env.spam.falseNegatives)
	}
	if _, err := env.svc.SetStatus(ctx, testScope, c.ID, models.StatusApproved); err != nil {
		t.Fatal(err)
	}
	if len(env.spam.falsePositives) != 1 {
		t.Errorf("false positives = %v, want one report", env.spam.falsePositives)
	}
	if _, err := env.svc.SetStatus(ctx, testScope, c.ID, models.StatusFeatured); err != nil {
		t.Fatal(err)
	}
	if len(env.spam.falsePositives) != 1 || len(env.spam.falseNegatives) != 1 {
		t.Error("approved -> featured is not a classifier correction")
	}
}

func TestSetStatusTransitions(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()
	c := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusDeletePending}
	env.store.seed(c)

	if _, err := env.svc.SetStatus(ctx, testScope, c.ID, models.StatusApproved); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.svc.SetStatus(ctx, testScope, 999, models.StatusApproved); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := env.svc.SetStatus(ctx, models.Scope{PageID: 6, Field: "comments"}, c.ID, models.StatusApproved); !errors.Is(err, ErrNotFound) {
		t.Errorf("comment from another page: err = %v, want ErrNotFound", err)
	}
}

func TestSetStatusReleasesQueuedNotifications(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()

	watcher := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusApproved,
		Email: "linus@example.com", Subcode: strings.Repeat("b", 40),
		Flags: models.FlagNotifyAll | models.FlagNotifyConfirmed}
	env.store.seed(watcher)

	c, err := env.svc.Submit(ctx, testScope, validInput("held back"))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(env.notifier.ofType(models.NotificationTypeAll)); n != 0 {
		t.Fatalf("subscribers notified before approval: %d", n)
	}

	if _, err := env.svc.SetStatus(ctx, testScope, c.ID, models.StatusApproved); err != nil {
		t.Fatal(err)
	}
	if n := len(env.notifier.ofType(models.NotificationTypeAll)); n != 1 {
		t.Errorf("subscriber notifications after approval = %d, want 1", n)
	}
	if env.store.row(c.ID).Flags.Has(models.FlagNotifyQueued) {
		t.Error("queued flag should be cleared once released")
	}

	// 再次变更状态不会重复发送
	env.svc.SetStatus(ctx, testScope, c.ID, models.StatusFeatured)
	if n := len(env.notifier.ofType(models.NotificationTypeAll)); n != 1 {
		t.Errorf("subscriber notifications = %d after second change, want 1", n)
	}
}

func TestDeleteGuard(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()
	parent := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusApproved}
	env.store.seed(parent)
	child := &models.Comment{PageID: 5, Field: "comments", ParentID: parent.ID, Status: models.StatusPending}
	env.store.seed(child)

	if err := env.svc.Delete(ctx, testScope, parent.ID); !errors.Is(err, ErrCannotDelete) {
		t.Fatalf("err = %v, want ErrCannotDelete", err)
	}
	if _, err := env.svc.Trash(ctx, testScope, child.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Delete(ctx, testScope, parent.ID); err != nil {
		t.Fatalf("delete after trashing child: %v", err)
	}
	if env.store.row(parent.ID) != nil {
		t.Error("parent still stored")
	}
}

func TestVote(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()
	c := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusApproved}
	env.store.seed(c)

	if _, err := env.svc.Vote(ctx, testScope, c.ID, "1.2.3.4", true); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}

	env = newTestEnv(testField(func(f *models.FieldConfig) { f.UseVotes = true }))
	env.store.seed(c)
	got, err := env.svc.Vote(ctx, testScope, c.ID, "1.2.3.4", true)
	if err != nil {
		t.Fatal(err)
	}
	if got.Upvotes != 1 {
		t.Errorf("upvotes = %d, want 1", got.Upvotes)
	}
	if _, err := env.svc.Vote(ctx, testScope, c.ID, "1.2.3.4", false); !errors.Is(err, ErrAlreadyVoted) {
		t.Errorf("err = %v, want ErrAlreadyVoted", err)
	}
	if _, err := env.svc.Vote(ctx, testScope, c.ID, "5.6.7.8", false); err != nil {
		t.Errorf("vote from another ip: %v", err)
	}
}

func TestPurgeSpam(t *testing.T) {
	env := newTestEnv(testField(nil))
	old := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusSpam, CreatedAt: time.Now().AddDate(0, 0, -10)}
	env.store.seed(old)
	recent := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusSpam}
	env.store.seed(recent)
	ham := &models.Comment{PageID: 5, Field: "comments", Status: models.StatusApproved, CreatedAt: time.Now().AddDate(0, 0, -10)}
	env.store.seed(ham)

	n, err := env.svc.PurgeSpam(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || env.store.row(old.ID) != nil {
		t.Errorf("purged %d, old spam still stored: %v", n, env.store.row(old.ID) != nil)
	}
	if env.store.row(recent.ID) == nil || env.store.row(ham.ID) == nil {
		t.Error("recent spam and ham must survive")
	}
}

func TestModifyNotificationsDisable(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()
	a := &models.Comment{PageID: 5, Field: "comments", Email: "x@example.com", Subcode: "XYZ",
		Flags: models.FlagNotifyAll | models.FlagNotifyConfirmed}
	env.store.seed(a)
	b := &models.Comment{PageID: 5, Field: "comments", Email: "x@example.com", Subcode: "XYZ",
		Flags: models.FlagNotifyReply | models.FlagNotifyConfirmed}
	env.store.seed(b)

	ok, err := env.svc.ModifyNotifications(ctx, 5, "XYZ", false, false)
	if err != nil || !ok {
		t.Fatalf("first disable = %v, %v; want true", ok, err)
	}
	if env.store.row(a.ID).Notifies() || env.store.row(b.ID).Notifies() {
		t.Error("both subscriptions should be cleared")
	}

	ok, err = env.svc.ModifyNotifications(ctx, 5, "XYZ", false, false)
	if err != nil || ok {
		t.Errorf("repeat disable = %v, %v; want false", ok, err)
	}

	if ok, _ := env.svc.ModifyNotifications(ctx, 5, "unknown", false, false); ok {
		t.Error("unknown subcode should not match")
	}
}

func TestModifyNotificationsPrefersBroaderFlag(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()
	c := &models.Comment{PageID: 5, Field: "comments", Email: "x@example.com", Subcode: "XYZ",
		Flags: models.FlagNotifyAll | models.FlagNotifyReply}
	env.store.seed(c)

	env.svc.ModifyNotifications(ctx, 5, "XYZ", false, false)
	flags := env.store.row(c.ID).Flags
	if flags.Has(models.FlagNotifyAll) || !flags.Has(models.FlagNotifyReply) {
		t.Errorf("flags = %b, want only NotifyReply left", flags)
	}
}

func TestModifyNotificationsAllPages(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()
	here := &models.Comment{PageID: 5, Field: "comments", Email: "x@example.com", Subcode: "XYZ", Flags: models.FlagNotifyReply}
	env.store.seed(here)
	there := &models.Comment{PageID: 9, Field: "comments", Email: "x@example.com", Subcode: "XYZ", Flags: models.FlagNotifyReply}
	env.store.seed(there)

	env.svc.ModifyNotifications(ctx, 5, "XYZ", true, false)
	if env.store.row(there.ID).Flags.Has(models.FlagNotifyConfirmed) {
		t.Error("page scoped confirm leaked to another page")
	}
	env.svc.ModifyNotifications(ctx, 5, "XYZ", true, true)
	if !env.store.row(there.ID).Flags.Has(models.FlagNotifyConfirmed) {
		t.Error("site-wide confirm should reach every page")
	}
}

// staleStore hands out a copy of a comment read before later writes landed.
type staleStore struct {
	*memStore
	snapshot *models.Comment
}

func (s *staleStore) Get(ctx context.Context, scope models.Scope, id uint) (*models.Comment, error) {
	return loadedClone(s.snapshot), nil
}

func TestSetStatusRejectsStaleRead(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()
	digest := "digest"
	c := &models.Comment{PageID: 5, Field: "comments", Text: "x", Status: models.StatusPending, Code: &digest}
	env.store.seed(c)
	snapshot := env.store.row(c.ID)

	// approved through the mail link and voted on after the moderator read it
	if _, err := env.store.ConsumeCode(ctx, testScope, digest, func(c *models.Comment) error {
		return applyStatus(c, models.StatusApproved)
	}); err != nil {
		t.Fatal(err)
	}
	env.store.RecordVote(ctx, c.ID, "1.1.1.1", 1)
	env.svc.store = &staleStore{memStore: env.store, snapshot: snapshot}

	if _, err := env.svc.SetStatus(ctx, testScope, c.ID, models.StatusSpam); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	stored := env.store.row(c.ID)
	if stored.Status != models.StatusApproved || stored.Code != nil || stored.Upvotes != 1 {
		t.Errorf("stored = status %s, code %v, upvotes %d", stored.Status, stored.Code, stored.Upvotes)
	}
}

func TestStatusChangeKeepsConcurrentUnsubscribe(t *testing.T) {
	env := newTestEnv(testField(nil))
	ctx := context.Background()
	subcode := strings.Repeat("c", 40)
	c := &models.Comment{PageID: 5, Field: "comments", Text: "x", Status: models.StatusPending,
		Email: "grace@example.com", Subcode: subcode,
		Flags: models.FlagNotifyReply | models.FlagNotifyQueued}
	env.store.seed(c)
	snapshot := env.store.row(c.ID)

	if ok, err := env.svc.ModifyNotifications(ctx, 5, subcode, false, false); err != nil || !ok {
		t.Fatalf("unsubscribe = %v, %v", ok, err)
	}
	env.svc.store = &staleStore{memStore: env.store, snapshot: snapshot}

	if _, err := env.svc.SetStatus(ctx, testScope, c.ID, models.StatusApproved); err != nil {
		t.Fatal(err)
	}
	flags := env.store.row(c.ID).Flags
	if flags.Has(models.FlagNotifyReply) {
		t.Errorf("flags = %b, unsubscribe was undone", flags)
	}
	if flags.Has(models.FlagNotifyQueued) {
		t.Errorf("flags = %b, queued bit not released", flags)
	}
}
