package notification

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/report-tracking-server/internal/domain"
)

// MockMailer is a mock implementation of the Mailer interface
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, msg domain.Message) (domain.DeliveryResult, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(domain.DeliveryResult), args.Error(1)
}

var testMessage = domain.Message{Recipient: "lab@example.org", Subject: "Report ready", Body: "line one\nline two"}

func TestLogMailer_Send(t *testing.T) {
	logger, hook := test.NewNullLogger()
	mailer := NewLogMailer(logger)

	result, err := mailer.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, "log", result.Transport)
	assert.NotEmpty(t, result.ID)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Notification logged", entry.Message)
	assert.Equal(t, "lab@example.org", entry.Data["recipient"])
}

func TestSMTPMailer_Send(t *testing.T) {
	logger, _ := test.NewNullLogger()
	mailer := NewSMTPMailer(domain.NotificationConfig{
		SMTPHost:     "mail.internal",
		SMTPPort:     2525,
		SMTPUsername: "tracker",
		SMTPPassword: "secret",
		From:         "tracking@example.org",
	}, logger)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	mailer.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	msg := testMessage
	msg.Recipient = "lab@example.org; pi@example.org"
	result, err := mailer.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "smtp", result.Transport)

	assert.Equal(t, "mail.internal:2525", gotAddr)
	assert.Equal(t, "tracking@example.org", gotFrom)
	assert.Equal(t, []string{"lab@example.org", "pi@example.org"}, gotTo)
	body := string(gotBody)
	assert.Contains(t, body, "Subject: Report ready\r\n")
	assert.Contains(t, body, "To: lab@example.org, pi@example.org\r\n")
	assert.True(t, strings.HasSuffix(body, "\r\n\r\nline one\r\nline two"))
}

func TestSMTPMailer_Errors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	mailer := NewSMTPMailer(domain.NotificationConfig{SMTPHost: "mail.internal", SMTPPort: 25}, logger)
	mailer.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("554 rejected")
	}

	_, err := mailer.Send(context.Background(), domain.Message{Recipient: " ; "})
	assert.EqualError(t, err, "message has no recipient")

	_, err = mailer.Send(context.Background(), testMessage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "554 rejected")
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mailer.Send(ctx, testMessage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSanitizeHeader(t *testing.T) {
	assert.Equal(t, "a  Bcc: x", sanitizeHeader("a\r\nBcc: x"))
}

func TestNewMailer(t *testing.T) {
	logger, _ := test.NewNullLogger()

	m, err := NewMailer(domain.NotificationConfig{Mode: "log"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)

	m, err = NewMailer(domain.NotificationConfig{Mode: "smtp", SMTPHost: "mail", SMTPPort: 25}, logger)
	require.NoError(t, err)
	assert.IsType(t, &ResilientMailer{}, m)

	_, err = NewMailer(domain.NotificationConfig{Mode: "pigeon"}, logger)
	assert.Error(t, err)
}

func TestResilientMailer_BreakerOpens(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inner := new(MockMailer)
	inner.On("Send", mock.Anything, testMessage).Return(domain.DeliveryResult{}, errors.New("relay down")).Times(2)

	mailer := NewResilientMailer(inner, ResilienceConfig{BreakerFailures: 2, BreakerTimeout: time.Minute}, logger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := mailer.Send(ctx, testMessage)
		assert.EqualError(t, err, "relay down")
	}
	assert.Equal(t, gobreaker.StateOpen, mailer.State())

	_, err := mailer.Send(ctx, testMessage)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	inner.AssertNumberOfCalls(t, "Send", 2)
}

func TestResilientMailer_PassesResult(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inner := new(MockMailer)
	inner.On("Send", mock.Anything, testMessage).Return(domain.DeliveryResult{ID: "m-1", Accepted: true}, nil)

	mailer := NewResilientMailer(inner, ResilienceConfig{RateLimit: 100, Burst: 5}, logger)
	result, err := mailer.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, "m-1", result.ID)
	assert.Equal(t, gobreaker.StateClosed, mailer.State())
}

func TestResilientMailer_RateLimitHonoursContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inner := new(MockMailer)
	inner.On("Send", mock.Anything, testMessage).Return(domain.DeliveryResult{ID: "m-1"}, nil).Once()

	mailer := NewResilientMailer(inner, ResilienceConfig{RateLimit: 0.001, Burst: 1}, logger)
	_, err := mailer.Send(context.Background(), testMessage)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = mailer.Send(ctx, testMessage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	inner.AssertExpectations(t)
}
