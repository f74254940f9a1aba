package mail

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/env"
)

// Message is a single HTML email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string

	// sendMail is smtp.SendMail; swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailerFromEnv reads the SMTP_* settings.
func NewSMTPMailerFromEnv() *SMTPMailer {
	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", env.GetEnv("PUBLIC_DOMAIN", "localhost"))
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}
	return &SMTPMailer{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   sender,
		sendMail: smtp.SendMail,
	}
}

// Send delivers msg. net/smtp has no context support, so ctx is only checked
// before dialing.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("invalid header value")
	}

	var auth smtp.Auth
	if m.Username != "" && m.Password != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.Host, m.Port)
	send := m.sendMail
	if send == nil {
		send = smtp.SendMail
	}

	err := send(addr, auth, m.Sender, []string{msg.To}, buildMessage(m.Sender, msg))
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", msg.To, addr)
	}
	return err
}

func buildMessage(sender string, msg Message) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, msg.To, msg.Subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			msg.Body,
	)
}
