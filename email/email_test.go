package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staging-backend/config"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func testMailer(c *captured, err error) *Mailer {
	m := NewMailer(&config.Config{SMTPHost: "smtp.example.com", SMTPPort: "587", SMTPUser: "mailer@example.com", SMTPPass: "pw"})
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return err
	}
	return m
}

func TestSendDowngradeNotice(t *testing.T) {
	var c captured
	require.NoError(t, testMailer(&c, nil).SendDowngradeNotice("jane@example.com"))
	assert.Equal(t, "smtp.example.com:587", c.addr)
	assert.Equal(t, "mailer@example.com", c.from, "from falls back to the SMTP user")
	assert.Equal(t, []string{"jane@example.com"}, c.to)
	assert.Contains(t, c.msg, "Subject: Your subscription has ended\r\n")
	assert.Contains(t, c.msg, "free plan")
}

func TestSendCreditsGranted(t *testing.T) {
	var c captured
	require.NoError(t, testMailer(&c, nil).SendCreditsGranted("jane@example.com", 50, 53))
	assert.True(t, strings.Contains(c.msg, "50 photo credits") && strings.Contains(c.msg, "now 53"))
}

func TestSendErrors(t *testing.T) {
	var c captured
	err := testMailer(&c, errors.New("relay denied")).SendWelcome("jane@example.com")
	assert.EqualError(t, err, "relay denied")

	err = testMailer(&c, nil).SendWelcome("jane@example.com\r\nBcc: all@example.com")
	assert.Error(t, err)

	err = NewMailer(&config.Config{}).SendWelcome("jane@example.com")
	assert.ErrorIs(t, err, ErrNotConfigured)

	var nilMailer *Mailer
	assert.False(t, nilMailer.Enabled())
}
