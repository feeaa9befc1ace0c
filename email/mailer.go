package email

import (
	"context"

	"github.com/adonese/bizpilot/fields"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Mailer delivers one html message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer sends through the configured SMTP relay.
type SMTPMailer struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

// LogMailer stands in when no SMTP server is configured. Every message counts as delivered.
type LogMailer struct {
	Logger *logrus.Logger
}

// NewMailer returns an SMTP mailer, or a LogMailer when MAIL_SERVER is unset.
func NewMailer(cfg fields.AppConfig, logger *logrus.Logger) Mailer {
	if cfg.MailServer == "" {
		return &LogMailer{Logger: logger}
	}
	port := cfg.MailPort
	if port == 0 {
		port = 587
	}
	return &SMTPMailer{
		dialer:    gomail.NewDialer(cfg.MailServer, port, cfg.MailUsername, cfg.MailPassword),
		fromEmail: cfg.SenderEmail,
		fromName:  cfg.SenderName,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.fromEmail, m.fromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)
	return m.dialer.DialAndSend(msg)
}

func (m *LogMailer) Send(_ context.Context, to, subject, _ string) error {
	m.Logger.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("email would be sent")
	return nil
}
