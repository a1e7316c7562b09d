package consumer

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
	"go.uber.org/zap"
)

const handleTimeout = 30 * time.Second

const (
	OutcomeCredited  = "credited"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeRequeued  = "requeued"
)

// OrderCrediter is the ledger boundary the consumer feeds.
type OrderCrediter interface {
	CreditOrder(ctx context.Context, order pointsdomain.OrderCompleted) (pointsdomain.AppendResult, error)
}

type Handler struct {
	ledger  OrderCrediter
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewHandler(ledger OrderCrediter, log *zap.Logger, metrics *obsmetrics.Metrics) *Handler {
	return &Handler{
		ledger:  ledger,
		log:     log.Named("consumer.handler"),
		metrics: metrics,
	}
}

// Handle credits one delivery and settles it. Malformed or invalid orders are
// dropped; anything else is requeued.
func (h *Handler) Handle(ctx context.Context, d amqp.Delivery) string {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	outcome := h.handle(ctx, d)
	h.metrics.RecordOrderConsumed(ctx, outcome)
	return outcome
}

func (h *Handler) handle(ctx context.Context, d amqp.Delivery) string {
	order, err := Decode(d.Body)
	if err != nil {
		h.log.Warn("dropping malformed order message",
			zap.String("message_id", d.MessageId),
			zap.Error(err),
		)
		h.settle(d.Nack(false, false))
		return OutcomeRejected
	}

	res, err := h.ledger.CreditOrder(ctx, order)
	switch {
	case err == nil:
	case permanent(err):
		h.log.Warn("dropping invalid order",
			zap.String("order_id", order.OrderID),
			zap.String("user_id", order.UserID),
			zap.Error(err),
		)
		h.settle(d.Nack(false, false))
		return OutcomeRejected
	default:
		h.log.Error("order credit failed, requeueing",
			zap.String("order_id", order.OrderID),
			zap.String("user_id", order.UserID),
			zap.Error(err),
		)
		h.settle(d.Nack(false, true))
		return OutcomeRequeued
	}

	h.settle(d.Ack(false))
	if !res.Inserted {
		h.log.Debug("order already credited", zap.String("order_id", order.OrderID))
		return OutcomeDuplicate
	}
	h.log.Info("order credited",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.Int64("points", order.Points),
	)
	return OutcomeCredited
}

func (h *Handler) settle(err error) {
	if err != nil {
		h.log.Warn("delivery settle failed", zap.Error(err))
	}
}

func permanent(err error) bool {
	return errors.Is(err, pointsdomain.ErrValidation) || errors.Is(err, pointsdomain.ErrInvalidUser)
}
