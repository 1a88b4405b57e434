package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/econsult/internal/email"
	"github.com/jwalitptl/econsult/internal/model"
	"github.com/jwalitptl/econsult/pkg/messaging"
	"github.com/jwalitptl/econsult/pkg/metrics"
)

const sendTimeout = 30 * time.Second

// Service emails the referring office when one of its consults has been submitted.
type Service struct {
	emailSvc email.Service
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewService(emailSvc email.Service, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		emailSvc: emailSvc,
		metrics:  m,
		logger:   logger.With().Str("component", "notification").Logger(),
	}
}

// Listen consumes submission events until ctx ends. An event whose email fails stays
// pending and is delivered again.
func (s *Service) Listen(ctx context.Context, broker messaging.MessageBroker) error {
	return broker.Subscribe(ctx, model.EventConsultSubmitted, func(ctx context.Context, payload []byte) error {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		return s.Handle(sendCtx, payload)
	})
}

// Handle sends one confirmation. Events without an owner email are skipped, and malformed
// events are logged and dropped since no retry can fix them.
func (s *Service) Handle(ctx context.Context, payload []byte) error {
	var evt model.ConsultSubmittedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		s.metrics.NotificationsSent.WithLabelValues("invalid").Inc()
		s.logger.Error().Err(err).Msg("dropping invalid submission event")
		return nil
	}
	if evt.OwnerEmail == "" {
		s.metrics.NotificationsSent.WithLabelValues("skipped").Inc()
		return nil
	}

	subject, body := Confirmation(evt)
	if err := s.emailSvc.SendCustom(ctx, evt.OwnerEmail, subject, body); err != nil {
		s.metrics.NotificationsSent.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to notify owner of consult %s: %w", evt.ConsultID, err)
	}

	s.metrics.NotificationsSent.WithLabelValues("sent").Inc()
	s.logger.Info().Str("consult_id", evt.ConsultID.String()).Msg("submission confirmation sent")
	return nil
}

// Confirmation renders the email. It carries only de-identified fields.
func Confirmation(evt model.ConsultSubmittedEvent) (subject, body string) {
	subject = fmt.Sprintf("e-Consult received: %s (%s)", evt.PatientInitials, evt.ConditionCategory)

	var b strings.Builder
	fmt.Fprintf(&b, "Your e-Consult request has been received.\n\n")
	fmt.Fprintf(&b, "Reference: %s\n", evt.ConsultID)
	fmt.Fprintf(&b, "Patient: %s\n", evt.PatientInitials)
	fmt.Fprintf(&b, "Condition: %s\n", evt.ConditionCategory)
	fmt.Fprintf(&b, "Status: %s\n", evt.Status)
	fmt.Fprintf(&b, "Submitted: %s\n\n", evt.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	b.WriteString("You can follow its progress on your dashboard.\n")
	return subject, b.String()
}
