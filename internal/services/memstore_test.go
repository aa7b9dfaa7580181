package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"commentry/internal/config"
	"commentry/internal/models"
	"commentry/internal/thread"
)

// memStore is an in-memory Store for service tests.
type memStore struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]*models.Comment
	votes  map[string]bool
	err    error // returned by every write when set
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{rows: make(map[uint]*models.Comment), votes: make(map[string]bool)}
}

func clone(c *models.Comment) *models.Comment {
	out := &models.Comment{
		ID:             c.ID,
		PageID:         c.PageID,
		Field:          c.Field,
		ParentID:       c.ParentID,
		Text:           c.Text,
		Sort:           c.Sort,
		Status:         c.Status,
		Flags:          c.Flags,
		CreatedAt:      c.CreatedAt,
		CreatedUsersID: c.CreatedUsersID,
		Email:          c.Email,
		Cite:           c.Cite,
		Website:        c.Website,
		IP:             c.IP,
		UserAgent:      c.UserAgent,
		Subcode:        c.Subcode,
		Upvotes:        c.Upvotes,
		Downvotes:      c.Downvotes,
		Stars:          c.Stars,
		Meta:           c.Meta,
	}
	if c.Code != nil {
		code := *c.Code
		out.Code = &code
	}
	return out
}

func loadedClone(c *models.Comment) *models.Comment {
	out := clone(c)
	out.MarkLoaded()
	return out
}

// seed stores c as if it had been saved earlier and returns its id.
func (m *memStore) seed(c *models.Comment) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.rows[c.ID] = clone(c)
	return c.ID
}

func (m *memStore) row(id uint) *models.Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		return clone(r)
	}
	return nil
}

func (m *memStore) sorted(match func(*models.Comment) bool) []*models.Comment {
	var out []*models.Comment
	for _, r := range m.rows {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func inScope(scope models.Scope) func(*models.Comment) bool {
	return func(c *models.Comment) bool {
		return c.PageID == scope.PageID && c.Field == scope.Field
	}
}

func (m *memStore) Load(ctx context.Context, scope models.Scope, opts LoadOptions) (*thread.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.sorted(inScope(scope))
	if opts.Newest {
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	}
	total := len(rows)
	if opts.Offset > 0 {
		if opts.Offset > len(rows) {
			opts.Offset = len(rows)
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	items := make([]*models.Comment, 0, len(rows))
	for _, r := range rows {
		items = append(items, loadedClone(r))
	}
	coll := thread.NewCollection(scope, items)
	coll.Total, coll.Limit, coll.Offset = total, opts.Limit, opts.Offset
	return coll, nil
}

func (m *memStore) Get(ctx context.Context, scope models.Scope, id uint) (*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || !inScope(scope)(r) {
		return nil, ErrNotFound
	}
	return loadedClone(r), nil
}

func (m *memStore) Save(ctx context.Context, c *models.Comment, maxDepth int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	old, exists := m.rows[c.ID]
	if c.ID != 0 && !exists {
		return ErrNotFound
	}
	if c.ID == 0 || old.ParentID != c.ParentID {
		links := make(map[uint]uint)
		for _, r := range m.sorted(inScope(c.Scope())) {
			links[r.ID] = r.ParentID
		}
		parentID, err := thread.Revalidate(links, c.ID, c.ParentID, maxDepth)
		if err != nil {
			return err
		}
		c.ParentID = parentID
	}
	if c.ID == 0 {
		m.nextID++
		c.ID = m.nextID
		c.CreatedAt = time.Now()
		m.rows[c.ID] = clone(c)
		return nil
	}
	// existing rows only take the editable columns
	old.ParentID, old.Text, old.Sort = c.ParentID, c.Text, c.Sort
	old.Email, old.Cite, old.Website = c.Email, c.Cite, c.Website
	old.Stars, old.Meta = c.Stars, c.Meta
	return nil
}

func (m *memStore) UpdateStatus(ctx context.Context, scope models.Scope, id uint, from, to models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	r, ok := m.rows[id]
	if !ok || !inScope(scope)(r) {
		return ErrNotFound
	}
	if r.Status != from {
		return ErrConflict
	}
	r.Status = to
	return nil
}

func (m *memStore) Delete(ctx context.Context, c *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, r := range m.rows {
		if r.ParentID == c.ID && r.Status < models.StatusDeletePending {
			return ErrCannotDelete
		}
	}
	delete(m.rows, c.ID)
	return nil
}

func (m *memStore) ConsumeCode(ctx context.Context, scope models.Scope, digest string, apply func(*models.Comment) error) (*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.sorted(inScope(scope)) {
		if r.Code == nil || *r.Code != digest {
			continue
		}
		c := loadedClone(r)
		if err := apply(c); err != nil {
			return nil, err
		}
		r.Status = c.Status
		r.Code = nil
		c.Code = nil
		return c, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) byEmail(email string, pageID uint) []*models.Comment {
	email = strings.ToLower(email)
	return m.sorted(func(c *models.Comment) bool {
		return strings.ToLower(c.Email) == email && (pageID == 0 || c.PageID == pageID)
	})
}

func (m *memStore) SubcodeForEmail(ctx context.Context, email string, pageID uint) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byEmail(email, pageID) {
		if r.Subcode != "" {
			return r.Subcode, nil
		}
	}
	return "", nil
}

func (m *memStore) EmailForSubcode(ctx context.Context, subcode string, pageID uint) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.sorted(func(c *models.Comment) bool {
		return c.Subcode == subcode && (pageID == 0 || c.PageID == pageID)
	})
	if len(rows) == 0 {
		return "", ErrNotFound
	}
	return rows[0].Email, nil
}

func (m *memStore) CommentsByEmail(ctx context.Context, email string, pageID uint) ([]*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Comment
	for _, r := range m.byEmail(email, pageID) {
		out = append(out, loadedClone(r))
	}
	return out, nil
}

func (m *memStore) ChangeFlags(ctx context.Context, id uint, set, clear models.Flags) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	r, ok := m.rows[id]
	if !ok {
		return false, ErrNotFound
	}
	flags := r.Flags.Set(set).Clear(clear)
	if flags == r.Flags {
		return false, nil
	}
	r.Flags = flags
	return true, nil
}

func (m *memStore) RecordVote(ctx context.Context, commentID uint, ip string, value int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d|%s", commentID, ip)
	if m.votes[key] {
		return false, nil
	}
	m.votes[key] = true
	if r, ok := m.rows[commentID]; ok {
		if value > 0 {
			r.Upvotes++
		} else {
			r.Downvotes++
		}
	}
	return true, nil
}

func (m *memStore) PurgeSpam(ctx context.Context, scope models.Scope, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rows {
		if r.Field != scope.Field || (scope.PageID != 0 && r.PageID != scope.PageID) {
			continue
		}
		if r.Status != models.StatusSpam || !r.CreatedAt.Before(before) {
			continue
		}
		live := false
		for _, child := range m.rows {
			if child.ParentID == id && child.Status < models.StatusDeletePending {
				live = true
				break
			}
		}
		if !live {
			delete(m.rows, id)
			prefix := fmt.Sprintf("%d|", id)
			for key := range m.votes {
				if strings.HasPrefix(key, prefix) {
					delete(m.votes, key)
				}
			}
			n++
		}
	}
	return n, nil
}

// recordingNotifier keeps every notification instead of sending it.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (r *recordingNotifier) Notify(n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) ofType(t models.NotificationType) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Notification
	for _, n := range r.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

type fakeDirectory struct {
	fields map[string]string // "<pageRef>|<field>" -> value
	users  map[string]string
	calls  int
}

func (d *fakeDirectory) PageURL(ctx context.Context, pageID uint) (string, error) {
	return fmt.Sprintf("https://example.com/p/%d", pageID), nil
}

func (d *fakeDirectory) PageField(ctx context.Context, pageRef, field string) (string, error) {
	d.calls++
	v, ok := d.fields[pageRef+"|"+field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (d *fakeDirectory) UserEmail(ctx context.Context, username string) (string, error) {
	d.calls++
	v, ok := d.users[username]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// recordingSpam is a SpamFilter that flags texts containing "spam" and records feedback.
type recordingSpam struct {
	falsePositives []uint
	falseNegatives []uint
}

func (r *recordingSpam) CheckSpam(ctx context.Context, c *models.Comment) (bool, error) {
	return strings.Contains(c.Text, "spam"), nil
}

func (r *recordingSpam) ReportFalsePositive(ctx context.Context, c *models.Comment) error {
	r.falsePositives = append(r.falsePositives, c.ID)
	return nil
}

func (r *recordingSpam) ReportFalseNegative(ctx context.Context, c *models.Comment) error {
	r.falseNegatives = append(r.falseNegatives, c.ID)
	return nil
}

func testField(mutate func(*models.FieldConfig)) models.FieldConfig {
	f := models.FieldConfig{
		Name:                "comments",
		MaxDepth:            3,
		ModerationMode:      models.ModerationAll,
		DeleteSpamAfterDays: 3,
		UseNotify:           true,
		NotificationEmail:   "admin@example.com",
		DoubleOptIn:         true,
		UseWebsite:          true,
	}
	if mutate != nil {
		mutate(&f)
	}
	return f
}

type testEnv struct {
	svc      *CommentService
	store    *memStore
	notifier *recordingNotifier
	spam     *recordingSpam
	dir      *fakeDirectory
}

func newTestEnv(field models.FieldConfig) *testEnv {
	cfg := &config.Config{
		CodeSecret: "test-secret",
		FieldNames: []string{field.Name},
		Fields:     map[string]models.FieldConfig{field.Name: field},
	}
	env := &testEnv{
		store:    newMemStore(),
		notifier: &recordingNotifier{},
		spam:     &recordingSpam{},
		dir:      &fakeDirectory{fields: map[string]string{}, users: map[string]string{}},
	}
	env.svc = NewCommentService(env.store, env.dir, env.notifier, env.spam, cfg)
	return env
}
