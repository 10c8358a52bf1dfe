package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/billing-api/internal/model"
)

// Service sends staff notifications.
type Service interface {
	SendStockWarnings(ctx context.Context, invoiceNumber string, warnings []model.StockWarning) error
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpService struct {
	sender Sender
	from   string
	to     []string
}

// NewSMTPService sends mail through the configured SMTP relay.
func NewSMTPService(cfg Config) Service {
	return NewService(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From, cfg.To)
}

func NewService(sender Sender, from string, to []string) Service {
	return &smtpService{sender: sender, from: from, to: to}
}

func (s *smtpService) SendStockWarnings(ctx context.Context, invoiceNumber string, warnings []model.StockWarning) error {
	if len(warnings) == 0 || len(s.to) == 0 {
		return nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Invoice <b>%s</b> was saved but stock could not be deducted for:</p><ul>", invoiceNumber)
	for _, w := range warnings {
		fmt.Fprintf(&body, "<li>%s: required %d, available %d (%s)</li>", w.Medicine, w.Required, w.Available, w.Message)
	}
	body.WriteString("</ul><p>Please reconcile the pharmacy stock manually.</p>")

	subject := fmt.Sprintf("Stock warning for invoice %s", invoiceNumber)
	for _, to := range s.to {
		if err := s.SendCustom(ctx, to, subject, body.String()); err != nil {
			return err
		}
	}
	return nil
}

func (s *smtpService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", content)

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	log.Debug().Str("to", to).Str("subject", subject).Msg("email sent")
	return nil
}

type noopService struct{}

// NewNoopService is used when alerts are disabled.
func NewNoopService() Service {
	return noopService{}
}

func (noopService) SendStockWarnings(context.Context, string, []model.StockWarning) error {
	return nil
}

func (noopService) SendCustom(context.Context, string, string, string) error {
	return nil
}
