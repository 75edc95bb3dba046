package email

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/glimte/domainbus/internal/reliability"
	"github.com/glimte/domainbus/metrics"
)

const (
	kindPasswordReset = "password_reset"
	kindWelcome       = "welcome"
)

// SMTPConfig holds the SMTP server and sender identity
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// SendFunc delivers one message
type SendFunc func(m *gomail.Message) error

// SMTPSender sends emails through an SMTP relay. Delivery is retried with
// backoff and guarded by a circuit breaker so a dead relay fails fast.
type SMTPSender struct {
	config   SMTPConfig
	send     SendFunc
	renderer *Renderer
	breaker  *reliability.CircuitBreaker
	retry    reliability.RetryPolicy
	logger   *slog.Logger
}

// SMTPOption configures the SMTPSender
type SMTPOption func(*SMTPSender)

// WithSMTPLogger sets the logger
func WithSMTPLogger(logger *slog.Logger) SMTPOption {
	return func(s *SMTPSender) {
		s.logger = logger
	}
}

// WithSendFunc replaces the gomail dialer
func WithSendFunc(send SendFunc) SMTPOption {
	return func(s *SMTPSender) {
		s.send = send
	}
}

// WithCircuitBreaker replaces the default breaker guarding the SMTP server
func WithCircuitBreaker(cb *reliability.CircuitBreaker) SMTPOption {
	return func(s *SMTPSender) {
		s.breaker = cb
	}
}

// WithRetryPolicy replaces the default retry policy for one send
func WithRetryPolicy(policy reliability.RetryPolicy) SMTPOption {
	return func(s *SMTPSender) {
		s.retry = policy
	}
}

// NewSMTPSender creates a sender with a 3 attempt backoff and a circuit breaker
func NewSMTPSender(config SMTPConfig, options ...SMTPOption) *SMTPSender {
	s := &SMTPSender{
		config:   config,
		renderer: NewRenderer(),
		logger:   slog.Default(),
		retry:    reliability.NewExponentialBackoff(500*time.Millisecond, 5*time.Second, 2, 3),
	}

	for _, opt := range options {
		opt(s)
	}

	if s.send == nil {
		dialer := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
		s.send = func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		}
	}
	if s.breaker == nil {
		s.breaker = reliability.NewCircuitBreaker(
			reliability.WithName("smtp"),
			reliability.WithStateChange(func(name string, from, to reliability.State) {
				s.logger.Warn("email circuit breaker changed state",
					"breaker", name,
					"from", from.String(),
					"to", to.String())
			}),
		)
	}
	return s
}

func (s *SMTPSender) SendPasswordResetEmail(ctx context.Context, to, resetLink, userName string) bool {
	subject, body := passwordResetMarkdown(s.product(), resetLink, userName)
	return s.deliver(ctx, kindPasswordReset, to, subject, body)
}

func (s *SMTPSender) SendWelcomeEmail(ctx context.Context, to, userName string) bool {
	subject, body := welcomeMarkdown(s.product(), userName)
	return s.deliver(ctx, kindWelcome, to, subject, body)
}

func (s *SMTPSender) product() string {
	if s.config.FromName != "" {
		return s.config.FromName
	}
	return "TripTracker"
}

func (s *SMTPSender) deliver(ctx context.Context, kind, to, subject, markdown string) bool {
	msg, err := s.renderer.Render(subject, markdown)
	if err != nil {
		s.logger.Error("failed to render email", "kind", kind, "error", err)
		metrics.RecordEmail(kind, false)
		return false
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.config.FromAddress, s.config.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	err = reliability.Retry(ctx, s.retry, func(int) error {
		err := s.breaker.Execute(ctx, func() error { return s.send(m) })
		if errors.Is(err, reliability.ErrCircuitOpen) || errors.Is(err, reliability.ErrCircuitHalfOpenLimit) {
			return reliability.Permanent(err)
		}
		return err
	}, reliability.WithOperation("send "+kind+" email"))
	if err != nil {
		s.logger.Error("failed to send email",
			"kind", kind,
			"to", to,
			"error", err)
		metrics.RecordEmail(kind, false)
		return false
	}

	s.logger.Info("email sent", "kind", kind, "to", to)
	metrics.RecordEmail(kind, true)
	return true
}
