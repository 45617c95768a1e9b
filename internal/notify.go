package internal

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/gomail.v2"
)

// Notifier tells an applicant that their application moved forward.
type Notifier interface {
	ApplicationStatusChanged(ctx context.Context, app Application) error
}

type LogNotifier struct{}

func (LogNotifier) ApplicationStatusChanged(_ context.Context, app Application) error {
	log.Printf("application %s is now %s (mail disabled)", app.ID, app.Status)
	return nil
}

type SMTPNotifier struct {
	from   string
	dialer *gomail.Dialer
	// sender replaces the dialer when set
	sender gomail.Sender
}

func NewSMTPNotifier(cfg *Config) *SMTPNotifier {
	return &SMTPNotifier{
		from:   cfg.SMTPSender,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
	}
}

// NewNotifier picks SMTP when a host is configured.
func NewNotifier(cfg *Config) Notifier {
	if cfg.SMTPHost == "" {
		return LogNotifier{}
	}
	return NewSMTPNotifier(cfg)
}

func statusMail(from string, app Application) *gomail.Message {
	p := message.NewPrinter(language.English)

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", app.Email)
	switch app.Status {
	case AppPaid:
		m.SetHeader("Subject", "Your award has been paid")
		m.SetBody("text/plain", p.Sprintf(
			"Hi %s,\n\nYour award of %d has been sent via %s.\n", app.Name, app.Amount, app.PaymentMethod))
	default:
		m.SetHeader("Subject", "Your application was approved")
		m.SetBody("text/plain", p.Sprintf(
			"Hi %s,\n\nYour application for %d was approved. Payment will follow via %s.\n", app.Name, app.Amount, app.PaymentMethod))
	}
	return m
}

func (n *SMTPNotifier) ApplicationStatusChanged(ctx context.Context, app Application) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := statusMail(n.from, app)

	var err error
	if n.sender != nil {
		err = gomail.Send(n.sender, m)
	} else {
		err = n.dialer.DialAndSend(m)
	}
	if err != nil {
		return fmt.Errorf("mail to %s: %w", app.Email, err)
	}
	log.Printf("status mail sent to %s", app.Email)
	return nil
}
