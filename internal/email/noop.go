package email

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NoopSender logs emails to zap instead of delivering them.
// Use in development or when SMTP is not configured. Bodies are never
// logged since they carry verification codes.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the recipient and subject and reports success.
func (n *NoopSender) Send(_ context.Context, msg Message) (*Delivery, error) {
	d := &Delivery{MessageID: "<" + uuid.NewString() + "@noop>", Accepted: time.Now().UTC()}
	n.logger.Info("email (noop, not sent)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("message_id", d.MessageID),
	)
	return d, nil
}
