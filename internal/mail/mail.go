// Package mail sends outbound notifications. Delivery is a collaborator: the
// core only depends on Sender, and failures are the caller's policy to
// tolerate or propagate.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// Sender delivers a message to one recipient.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers through a plain SMTP relay.
type SMTPSender struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

var _ Sender = (*SMTPSender)(nil)

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("mail: recipient is required")
	}
	contentType := "text/plain; charset=utf-8"
	if msg.HTML {
		contentType = "text/html; charset=utf-8"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", s.From)
	fmt.Fprintf(&sb, "To: %s\r\n", msg.To)
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&sb, "MIME-Version: 1.0\r\nContent-Type: %s\r\n\r\n", contentType)
	sb.WriteString(msg.Body)

	if err := smtp.SendMail(s.Addr, s.Auth, s.From, []string{msg.To}, []byte(sb.String())); err != nil {
		return fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return nil
}

// Nop discards messages; used in tests and when no relay is configured.
type Nop struct {
	Sent []Message
}

var _ Sender = (*Nop)(nil)

func (n *Nop) Send(ctx context.Context, msg Message) error {
	n.Sent = append(n.Sent, msg)
	return nil
}
