package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Notifier delivers one message to a list of validated recipients.
type Notifier interface {
	Send(ctx context.Context, subject string, recipients []string, body string) error
}

// SMTPMailer sends plain-text mail through an SMTP relay.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Now      func() time.Time

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer for the relay at host:port.
func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		Now:      time.Now,
		sendMail: smtp.SendMail,
	}
}

// Send implements Notifier.
func (m *SMTPMailer) Send(ctx context.Context, subject string, recipients []string, body string) error {
	if len(recipients) == 0 {
		return nil
	}
	if m.Host == "" {
		return fmt.Errorf("send mail: no SMTP host configured")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	msg := m.compose(subject, recipients, body)
	if err := m.sendMail(addr, auth, m.From, recipients, msg); err != nil {
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	return nil
}

func (m *SMTPMailer) compose(subject string, recipients []string, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.From + "\r\n")
	b.WriteString("To: " + strings.Join(recipients, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + m.Now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// Message is one notification captured by a Recorder.
type Message struct {
	Subject    string   `json:"subject"`
	Recipients []string `json:"recipients"`
	Body       string   `json:"body"`
}

// Recorder is a Notifier that keeps messages instead of sending them.
// Used by dry runs and tests.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

// Send implements Notifier.
func (r *Recorder) Send(_ context.Context, subject string, recipients []string, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{
		Subject:    subject,
		Recipients: append([]string(nil), recipients...),
		Body:       body,
	})
	return nil
}

// Messages returns a copy of the recorded messages in send order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
