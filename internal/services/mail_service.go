package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"commentry/internal/config"
	"commentry/internal/models"
)

// Mailer is the mail transport.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, bodyText, bodyHTML string) error
}

// notificationSender is implemented by transports that can add per-message
// headers such as List-Unsubscribe.
type notificationSender interface {
	SendNotification(ctx context.Context, n models.Notification) error
}

type MailService struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	Enabled  bool

	send func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

const (
	smtpDialTimeout = 10 * time.Second
	// smtpSessionTimeout bounds a whole SMTP session when ctx has no deadline.
	smtpSessionTimeout = time.Minute
)

func NewMailService(cfg *config.Config) *MailService {
	enabled := cfg.MailEnabled()
	if !enabled {
		log.Println("[mail] MailService disabled: missing SMTP environment variables")
	}

	return &MailService{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.SMTPFrom,
		FromName: cfg.MailFromName,
		Enabled:  enabled,
		send:     sendMail,
	}
}

func (s *MailService) Send(ctx context.Context, recipient, subject, bodyText, bodyHTML string) error {
	return s.SendNotification(ctx, models.Notification{
		Recipient: recipient,
		Subject:   subject,
		BodyText:  bodyText,
		BodyHTML:  bodyHTML,
	})
}

func (s *MailService) SendNotification(ctx context.Context, n models.Notification) error {
	if !s.Enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildMessage(s.From, s.FromName, n, time.Now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	if err := s.send(ctx, addr, auth, s.From, []string{n.Recipient}, msg); err != nil {
		return fmt.Errorf("send to %s: %w", n.Recipient, err)
	}
	log.Printf("[mail] sent %s notification for comment %d", n.Type, n.CommentID)
	return nil
}

// sendMail is smtp.SendMail bounded by ctx: the dial has its own timeout and
// every read and write on the connection fails once ctx is done.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) (err error) {
	dialer := net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, ctxDeadline := ctx.Deadline()
	if !ctxDeadline {
		deadline = time.Now().Add(smtpSessionTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()
	defer func() {
		if err == nil {
			return
		}
		// the socket deadline can fire just before ctx reports it
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		} else if ctxDeadline && errors.Is(err, os.ErrDeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
	}()

	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// buildMessage renders a multipart/alternative message with a text and an HTML part.
func buildMessage(from, fromName string, n models.Notification, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", n.BodyText},
		{"text/html; charset=UTF-8", n.BodyHTML},
	} {
		if part.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 {
		domain = from[i+1:]
	}

	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }
	header("From", fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", fromName), from))
	header("To", n.Recipient)
	header("Subject", mime.QEncoding.Encode("utf-8", n.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	header("MIME-Version", "1.0")
	if n.UnsubscribeURL != "" {
		header("List-Unsubscribe", "<"+n.UnsubscribeURL+">")
	}
	header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
