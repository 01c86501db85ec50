package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/clinichq/arrivals/pkg/logging"
)

// Alerter sends operational alerts to the practice operator. It is used for
// conditions that need a human to step in: a workflow transition the system
// does not handle, or a state record that could not be persisted after an
// SMS already went out.
type Alerter struct {
	email  EmailSender
	to     string
	toName string
	logger *logging.Logger
	clock  func() time.Time
}

// NewAlerter creates an alerter that emails the given operator address.
// When email is nil or to is empty, alerts are logged only.
func NewAlerter(email EmailSender, to, toName string, logger *logging.Logger) *Alerter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Alerter{
		email:  email,
		to:     to,
		toName: toName,
		logger: logger,
		clock:  time.Now,
	}
}

// Alert emails the operator and logs the condition. A send failure is logged
// and returned, but callers generally continue: alerts are best-effort and
// must never block the notification engine.
func (a *Alerter) Alert(ctx context.Context, subject, body string) error {
	a.logger.Warn("operator alert", "subject", subject, "detail", body)

	if a.email == nil || a.to == "" {
		a.logger.Warn("operator alert not emailed: email sender not configured", "subject", subject)
		return nil
	}

	msg := EmailMessage{
		To:      a.to,
		ToName:  a.toName,
		Subject: fmt.Sprintf("[clinic-arrivals] %s", subject),
		Body:    fmt.Sprintf("%s\n\nRaised at: %s\n", body, a.clock().Format(time.RFC1123)),
	}
	if err := a.email.Send(ctx, msg); err != nil {
		a.logger.Error("operator alert email failed", "error", err, "subject", subject)
		return fmt.Errorf("notify: alert email: %w", err)
	}
	return nil
}
