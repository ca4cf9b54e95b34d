// Package notification delivers hook emails. The log mailer is used outside
// production; the SMTP mailer is wrapped in a ResilientMailer when deployed.
package notification

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// LogMailer records messages in the log instead of sending them
type LogMailer struct {
	logger *logrus.Logger
}

// NewLogMailer creates a mailer that only logs
func NewLogMailer(logger *logrus.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs the message and reports it as accepted
func (m *LogMailer) Send(_ context.Context, msg domain.Message) (domain.DeliveryResult, error) {
	id := uuid.New().String()
	m.logger.WithFields(logrus.Fields{
		"message_id": id,
		"recipient":  msg.Recipient,
		"subject":    msg.Subject,
	}).Info("Notification logged")
	return domain.DeliveryResult{
		ID:        id,
		Accepted:  true,
		Transport: "log",
		SentAt:    time.Now().UTC(),
	}, nil
}

// SMTPMailer sends plain text mail through an SMTP relay
type SMTPMailer struct {
	addr   string
	from   string
	auth   smtp.Auth
	logger *logrus.Logger

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates an SMTP mailer from the notification settings. PLAIN
// auth is used when a username is configured.
func NewSMTPMailer(cfg domain.NotificationConfig, logger *logrus.Logger) *SMTPMailer {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &SMTPMailer{
		addr:   net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		from:   cfg.From,
		auth:   auth,
		logger: logger,
		send:   smtp.SendMail,
	}
}

// Send delivers the message. The context is only checked before dialling
// since net/smtp has no context support.
func (m *SMTPMailer) Send(ctx context.Context, msg domain.Message) (domain.DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.DeliveryResult{}, err
	}
	recipients := splitRecipients(msg.Recipient)
	if len(recipients) == 0 {
		return domain.DeliveryResult{}, fmt.Errorf("message has no recipient")
	}

	id := uuid.New().String()
	body := buildMessage(id, m.from, recipients, msg, time.Now().UTC())
	if err := m.send(m.addr, m.auth, m.from, recipients, body); err != nil {
		m.logger.WithFields(logrus.Fields{
			"recipient": msg.Recipient,
			"relay":     m.addr,
			"error":     err,
		}).Error("Failed to send notification")
		return domain.DeliveryResult{}, fmt.Errorf("sending mail via %s: %w", m.addr, err)
	}

	m.logger.WithFields(logrus.Fields{
		"message_id": id,
		"recipient":  msg.Recipient,
	}).Info("Notification sent")
	return domain.DeliveryResult{
		ID:        id,
		Accepted:  true,
		Transport: "smtp",
		SentAt:    time.Now().UTC(),
	}, nil
}

// splitRecipients accepts comma or semicolon separated address lists
func splitRecipients(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func buildMessage(id, from string, to []string, msg domain.Message, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(msg.Subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + id + "@report-tracking>\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// NewMailer builds the mailer selected by cfg.Mode. SMTP delivery is wrapped
// with a circuit breaker and rate limiter.
func NewMailer(cfg domain.NotificationConfig, logger *logrus.Logger) (domain.Mailer, error) {
	switch cfg.Mode {
	case "", "log":
		return NewLogMailer(logger), nil
	case "smtp":
		return NewResilientMailer(NewSMTPMailer(cfg, logger), ResilienceConfig{
			RateLimit:       cfg.RateLimit,
			Burst:           cfg.Burst,
			BreakerFailures: cfg.BreakerFailures,
			BreakerTimeout:  cfg.BreakerTimeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown notification mode %q", cfg.Mode)
	}
}
