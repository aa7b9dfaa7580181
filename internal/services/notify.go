package services

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"
	texttemplate "text/template"

	"commentry/internal/models"
	"commentry/internal/thread"
	"commentry/internal/utils"
)

//go:embed templates/*.html templates/*.txt
var mailTemplates embed.FS

var (
	htmlTemplates = template.Must(template.ParseFS(mailTemplates, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(mailTemplates, "templates/*.txt"))
)

// Notifier accepts outgoing notifications for delivery off the request path.
type Notifier interface {
	Notify(n models.Notification)
}

// Target is one subscriber that should hear about a new comment.
type Target struct {
	Type    models.NotificationType
	Email   string
	Cite    string
	Subcode string
}

// SubscriberTargets lists the subscribers of coll that should be told about c:
// published ancestors asking for replies first, then published comments asking
// for everything. The author of c is never a target, and with double opt-in
// only confirmed subscriptions count.
func SubscriberTargets(coll *thread.Collection, c *models.Comment, doubleOptIn bool) []Target {
	author := strings.ToLower(strings.TrimSpace(c.Email))
	seen := map[string]bool{author: true}
	var out []Target

	eligible := func(item *models.Comment, flag models.Flags) bool {
		if item.ID == c.ID || !item.Status.Published() || item.Subcode == "" {
			return false
		}
		if !item.Flags.Has(flag) {
			return false
		}
		return !doubleOptIn || item.Flags.Has(models.FlagNotifyConfirmed)
	}
	add := func(item *models.Comment, typ models.NotificationType) {
		email := strings.ToLower(strings.TrimSpace(item.Email))
		if email == "" || seen[email] {
			return
		}
		seen[email] = true
		out = append(out, Target{Type: typ, Email: email, Cite: item.Cite, Subcode: item.Subcode})
	}

	for _, parent := range coll.Parents(c) {
		if eligible(parent, models.FlagNotifyReply) {
			add(parent, models.NotificationTypeReply)
		}
	}
	for _, item := range coll.Items() {
		if eligible(item, models.FlagNotifyAll) {
			add(item, models.NotificationTypeAll)
		}
	}
	return out
}

// ActionURL is the moderator link that applies action to the comment holding code.
func ActionURL(pageURL string, scope models.Scope, code, action string) string {
	q := url.Values{}
	q.Set("field", scope.Field)
	q.Set("page_id", strconv.FormatUint(uint64(scope.PageID), 10))
	q.Set("code", code)
	q.Set("comment_success", action)
	return withQuery(pageURL, q)
}

// SubscriberURL is the confirm/unsub link for a subscriber code.
func SubscriberURL(pageURL, subcode, action string) string {
	q := url.Values{}
	q.Set("subcode", subcode)
	q.Set("comment_success", action)
	return withQuery(pageURL, q)
}

func withQuery(pageURL string, q url.Values) string {
	base := strings.SplitN(pageURL, "#", 2)[0]
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

type mailData struct {
	Cite           string
	Email          string
	Website        string
	Status         string
	Text           string
	BodyHTML       template.HTML
	PageURL        string
	CommentURL     string
	ApproveURL     string
	SpamURL        string
	PendingURL     string
	Reply          bool
	ConfirmURL     string
	UnsubscribeURL string
}

func render(name string, data mailData) (text, html string, err error) {
	var tb, hb bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&tb, name+".txt", data); err != nil {
		return "", "", fmt.Errorf("render %s.txt: %w", name, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&hb, name+".html", data); err != nil {
		return "", "", fmt.Errorf("render %s.html: %w", name, err)
	}
	return strings.TrimSpace(tb.String()) + "\n", hb.String(), nil
}

func commentData(c *models.Comment, pageURL, commentURL string) mailData {
	cite := c.Cite
	if cite == "" {
		cite = "Anonymous"
	}
	return mailData{
		Cite:       cite,
		Email:      c.Email,
		Website:    c.Website,
		Status:     c.Status.String(),
		Text:       c.Text,
		BodyHTML:   template.HTML(utils.RenderCommentHTML(c.Text)),
		PageURL:    pageURL,
		CommentURL: commentURL,
	}
}

// AdminNotification builds the moderator mail. code is the plaintext approval
// code; without it the action links are left out.
func AdminNotification(recipient string, c *models.Comment, pageURL, commentURL, code string) (models.Notification, error) {
	data := commentData(c, pageURL, commentURL)
	if code != "" {
		scope := c.Scope()
		data.ApproveURL = ActionURL(pageURL, scope, code, "approve")
		data.SpamURL = ActionURL(pageURL, scope, code, "spam")
		data.PendingURL = ActionURL(pageURL, scope, code, "pending")
	}
	text, html, err := render("admin", data)
	if err != nil {
		return models.Notification{}, err
	}
	return models.Notification{
		Type:      models.NotificationTypeAdmin,
		Recipient: recipient,
		Subject:   fmt.Sprintf("[%s] New comment by %s", data.Status, data.Cite),
		BodyText:  text,
		BodyHTML:  html,
		CommentID: c.ID,
	}, nil
}

// SubscriberNotification builds the mail telling t about the new comment c.
func SubscriberNotification(t Target, c *models.Comment, pageURL, commentURL string) (models.Notification, error) {
	data := commentData(c, pageURL, commentURL)
	data.Reply = t.Type == models.NotificationTypeReply
	data.UnsubscribeURL = SubscriberURL(pageURL, t.Subcode, "unsub")
	text, html, err := render("subscriber", data)
	if err != nil {
		return models.Notification{}, err
	}
	subject := fmt.Sprintf("New comment by %s", data.Cite)
	if data.Reply {
		subject = fmt.Sprintf("%s replied to your comment", data.Cite)
	}
	return models.Notification{
		Type:           t.Type,
		Recipient:      t.Email,
		Subject:        subject,
		BodyText:       text,
		BodyHTML:       html,
		UnsubscribeURL: data.UnsubscribeURL,
		CommentID:      c.ID,
	}, nil
}

// ConfirmNotification asks the author of c to confirm their subscription.
func ConfirmNotification(c *models.Comment, pageURL string) (models.Notification, error) {
	data := commentData(c, pageURL, "")
	data.ConfirmURL = SubscriberURL(pageURL, c.Subcode, "confirm")
	data.UnsubscribeURL = SubscriberURL(pageURL, c.Subcode, "unsub")
	text, html, err := render("confirm", data)
	if err != nil {
		return models.Notification{}, err
	}
	return models.Notification{
		Type:           models.NotificationTypeConfirm,
		Recipient:      c.Email,
		Subject:        "Please confirm your comment subscription",
		BodyText:       text,
		BodyHTML:       html,
		UnsubscribeURL: data.UnsubscribeURL,
		CommentID:      c.ID,
	}, nil
}
