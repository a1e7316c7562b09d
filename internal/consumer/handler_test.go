package consumer

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type settlement struct {
	acked   bool
	nacked  bool
	requeue bool
}

type fakeAcknowledger struct {
	got []settlement
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.got = append(f.got, settlement{acked: true})
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.got = append(f.got, settlement{nacked: true, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.got = append(f.got, settlement{nacked: true, requeue: requeue})
	return nil
}

type stubLedger struct {
	orders []pointsdomain.OrderCompleted
	res    pointsdomain.AppendResult
	err    error
}

func (s *stubLedger) CreditOrder(_ context.Context, order pointsdomain.OrderCompleted) (pointsdomain.AppendResult, error) {
	s.orders = append(s.orders, order)
	return s.res, s.err
}

const validBody = `{"user_id":"1b4e28ba-2fa1-11d2-883f-0016d3cca427","order_id":"ORD-1","order_value":100,"points":100}`

func deliver(t *testing.T, ledger *stubLedger, body string) (string, settlement) {
	t.Helper()
	ack := &fakeAcknowledger{}
	h := NewHandler(ledger, zap.NewNop(), nil)
	outcome := h.Handle(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(body)})
	require.Len(t, ack.got, 1)
	return outcome, ack.got[0]
}

func TestHandleCreditsAndAcks(t *testing.T) {
	ledger := &stubLedger{res: pointsdomain.AppendResult{Inserted: true}}
	outcome, got := deliver(t, ledger, validBody)

	assert.Equal(t, OutcomeCredited, outcome)
	assert.True(t, got.acked)
	require.Len(t, ledger.orders, 1)
	assert.Equal(t, "ORD-1", ledger.orders[0].OrderID)
}

func TestHandleDuplicateIsAcked(t *testing.T) {
	ledger := &stubLedger{res: pointsdomain.AppendResult{Inserted: false}}
	outcome, got := deliver(t, ledger, validBody)

	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.True(t, got.acked)
}

func TestHandleMalformedIsDropped(t *testing.T) {
	ledger := &stubLedger{}
	outcome, got := deliver(t, ledger, `{"order_id":`)

	assert.Equal(t, OutcomeRejected, outcome)
	assert.True(t, got.nacked)
	assert.False(t, got.requeue)
	assert.Empty(t, ledger.orders)
}

func TestHandleInvalidOrderIsDropped(t *testing.T) {
	for name, err := range map[string]error{
		"invalid user": pointsdomain.ErrInvalidUser,
		"validation":   &pointsdomain.ValidationError{Field: "points", Reason: "must be positive for purchase"},
	} {
		t.Run(name, func(t *testing.T) {
			outcome, got := deliver(t, &stubLedger{err: err}, validBody)
			assert.Equal(t, OutcomeRejected, outcome)
			assert.True(t, got.nacked)
			assert.False(t, got.requeue)
		})
	}
}

func TestHandleTransientFailureIsRequeued(t *testing.T) {
	outcome, got := deliver(t, &stubLedger{err: errors.New("database is locked")}, validBody)

	assert.Equal(t, OutcomeRequeued, outcome)
	assert.True(t, got.nacked)
	assert.True(t, got.requeue)
}
