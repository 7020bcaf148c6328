package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	addr string // host:port
	from string
	auth smtp.Auth
}

// NewEmailSender creates an EmailSender for the given SMTP server. If user is
// non-empty, PLAIN auth is used.
func NewEmailSender(addr, from, user, password string) *EmailSender {
	var auth smtp.Auth
	if user != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host = addr[:i]
		}
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &EmailSender{addr: addr, from: from, auth: auth}
}

// Send delivers the notification to the recipient encoded in the message
// envelope. The title becomes the subject line.
func (e *EmailSender) Send(ctx context.Context, title, message string) error {
	// net/smtp has no context support; honour cancellation before dialing.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email: %w", err)
	}

	to, body := splitRecipient(message)
	if to == "" {
		// No explicit recipient: deliver back to the sender address, which is
		// typically an operator alias.
		to = e.from
		body = message
	}

	msg := strings.Join([]string{
		"From: " + e.from,
		"To: " + to,
		"Subject: " + title,
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(e.addr, e.auth, e.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("email: send to %s: %w", to, err)
	}
	return nil
}

// Name returns the sender identifier.
func (e *EmailSender) Name() string {
	return "email"
}

// splitRecipient extracts a "to:<addr>\n" prefix from the message body when
// present, so callers can address individual users through the generic Sender
// interface.
func splitRecipient(message string) (to, body string) {
	if !strings.HasPrefix(message, "to:") {
		return "", message
	}
	rest := message[len("to:"):]
	i := strings.IndexByte(rest, '\n')
	if i < 0 {
		return strings.TrimSpace(rest), ""
	}
	return strings.TrimSpace(rest[:i]), rest[i+1:]
}
