package email

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"

	"staging-backend/accounts"
	"staging-backend/config"
)

var ErrNotConfigured = errors.New("SMTP settings missing")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends plain-text notifications over SMTP.
type Mailer struct {
	host, port, user, pass, from string
	send                         sendFunc
}

func NewMailer(cfg *config.Config) *Mailer {
	from := cfg.SMTPFrom
	if from == "" {
		from = cfg.SMTPUser
	}
	return &Mailer{
		host: cfg.SMTPHost,
		port: cfg.SMTPPort,
		user: cfg.SMTPUser,
		pass: cfg.SMTPPass,
		from: from,
		send: smtp.SendMail,
	}
}

// Enabled reports whether every SMTP setting is present.
func (m *Mailer) Enabled() bool {
	return m != nil && m.host != "" && m.port != "" && m.user != "" && m.pass != "" && m.from != ""
}

func (m *Mailer) deliver(to, subject, body string) error {
	if !m.Enabled() {
		return ErrNotConfigured
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid header value for %q", to)
	}
	addr := m.host + ":" + m.port
	auth := smtp.PlainAuth("", m.user, m.pass, m.host)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s", m.from, to, subject, body))
	return m.send(addr, auth, m.from, []string{to}, msg)
}

func (m *Mailer) SendWelcome(to string) error {
	body := fmt.Sprintf("Welcome to virtual staging!\n\nYour free plan includes %d staged photos to get started.", accounts.FreeCredits)
	if err := m.deliver(to, "Welcome", body); err != nil {
		return err
	}
	log.Info().Str("to", to).Msg("welcome mail sent")
	return nil
}

// SendCreditsGranted tells a user that credits were added to the account.
func (m *Mailer) SendCreditsGranted(to string, credits, limit int) error {
	body := fmt.Sprintf("%d photo credits were added to your account.\nYour limit for this period is now %d.", credits, limit)
	if err := m.deliver(to, "Photo credits added", body); err != nil {
		return err
	}
	log.Info().Str("to", to).Int("credits", credits).Msg("credits mail sent")
	return nil
}

// SendDowngradeNotice tells a user the paid subscription ended and the
// account is back on the free plan.
func (m *Mailer) SendDowngradeNotice(to string) error {
	body := "Your subscription has ended and your account was moved to the free plan.\n" +
		"Subscribe again any time to get more staged photos."
	if err := m.deliver(to, "Your subscription has ended", body); err != nil {
		return err
	}
	log.Info().Str("to", to).Msg("downgrade mail sent")
	return nil
}
