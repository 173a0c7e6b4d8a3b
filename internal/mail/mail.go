// Package mail composes and sends purchaser emails over SMTP.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"

	"github.com/domodwyer/mailyak/v3"
)

// Provider selects how mail leaves the process. It is resolved once at
// startup; unknown names are a configuration error.
type Provider string

const (
	ProviderGmail    Provider = "gmail"
	ProviderResend   Provider = "resend"
	ProviderSendGrid Provider = "sendgrid"
	ProviderSMTP     Provider = "smtp"
	ProviderLog      Provider = "log"
)

func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderGmail, ProviderResend, ProviderSendGrid, ProviderSMTP, ProviderLog:
		return p, nil
	}
	return "", fmt.Errorf("mail: unsupported provider %q", s)
}

type Config struct {
	Provider Provider
	From     string
	FromName string

	// Host and Port are only read for ProviderSMTP; the hosted providers
	// have fixed relays.
	Host     string
	Port     int
	Username string
	Password string
}

// relay returns the SMTP endpoint and login for the configured provider.
func (c Config) relay() (addr, user, pass string, err error) {
	switch c.Provider {
	case ProviderGmail:
		return "smtp.gmail.com:587", c.From, c.Password, nil
	case ProviderResend:
		return "smtp.resend.com:587", "resend", c.Password, nil
	case ProviderSendGrid:
		return "smtp.sendgrid.net:587", "apikey", c.Password, nil
	case ProviderSMTP:
		if c.Host == "" {
			return "", "", "", fmt.Errorf("mail: smtp provider needs a host")
		}
		port := c.Port
		if port == 0 {
			port = 587
		}
		return net.JoinHostPort(c.Host, strconv.Itoa(port)), c.Username, c.Password, nil
	}
	return "", "", "", fmt.Errorf("mail: no relay for provider %q", c.Provider)
}

type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

type Message struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// NewSender builds the sender for cfg.Provider.
func NewSender(cfg Config, log *slog.Logger) (Sender, error) {
	const op = "mail.NewSender"

	if cfg.Provider == ProviderLog {
		return &LogSender{log: log.With("component", "mail")}, nil
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%s: sender address is required", op)
	}

	addr, user, pass, err := cfg.relay()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	host, _, _ := net.SplitHostPort(addr)

	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}

	return &SMTPSender{addr: addr, auth: auth, from: cfg.From, fromName: cfg.FromName}, nil
}

type SMTPSender struct {
	addr     string
	auth     smtp.Auth
	from     string
	fromName string
}

func (s *SMTPSender) compose(m Message) *mailyak.MailYak {
	mail := mailyak.New(s.addr, s.auth)
	mail.From(s.from)
	mail.FromName(s.fromName)
	mail.To(m.To)
	mail.Subject(m.Subject)
	mail.HTML().Set(m.HTML)
	if m.Text != "" {
		mail.Plain().Set(m.Text)
	}
	for _, a := range m.Attachments {
		mail.AttachWithMimeType(a.Name, bytes.NewReader(a.Data), a.MIMEType)
	}
	return mail
}

// Send delivers m. mailyak has no context support, so ctx only guards the
// start of the call.
func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	const op = "mail.SMTPSender.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.compose(m).Send(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// LogSender writes messages to the log instead of sending them. For local
// development.
type LogSender struct {
	log *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, m Message) error {
	s.log.InfoContext(ctx, "email",
		"to", m.To,
		"subject", m.Subject,
		"attachments", len(m.Attachments),
	)
	return nil
}
