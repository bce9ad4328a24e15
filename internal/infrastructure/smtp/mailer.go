package smtp

import (
	"context"
	"fmt"

	"github.com/go-auth-session/internal/config"
	"github.com/go-auth-session/internal/domain"
	"gopkg.in/gomail.v2"
)

// Mailer sends emails. Failures wrap domain.ErrDeliveryFailed so callers can
// tell an undeliverable notification apart from other errors.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// dialer is the part of gomail.Dialer the mailer uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type mailer struct {
	dialer dialer
	from   string
}

func NewMailer(cfg *config.Config) Mailer {
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	return &mailer{dialer: d, from: cfg.SMTPFrom}
}

func (m *mailer) SendEmail(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send to %s: %w: %v", to, domain.ErrDeliveryFailed, err)
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send to %s: %w: %v", to, domain.ErrDeliveryFailed, err)
	}
	return nil
}
