package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loyalty/internal/money"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
)

var ErrMalformedMessage = errors.New("malformed_message")

// OrderCompletedMessage is the checkout collaborator's completion event.
type OrderCompletedMessage struct {
	UserID      string          `json:"user_id"`
	OrderID     string          `json:"order_id"`
	OrderValue  decimal.Decimal `json:"order_value"`
	Points      int64           `json:"points"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Decode parses body into the ledger's inbound order shape.
func Decode(body []byte) (pointsdomain.OrderCompleted, error) {
	var msg OrderCompletedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return pointsdomain.OrderCompleted{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if strings.TrimSpace(msg.OrderID) == "" {
		return pointsdomain.OrderCompleted{}, fmt.Errorf("%w: order_id is required", ErrMalformedMessage)
	}
	if msg.Points <= 0 {
		return pointsdomain.OrderCompleted{}, fmt.Errorf("%w: points must be positive", ErrMalformedMessage)
	}
	if msg.OrderValue.IsNegative() {
		return pointsdomain.OrderCompleted{}, fmt.Errorf("%w: order_value must not be negative", ErrMalformedMessage)
	}
	return pointsdomain.OrderCompleted{
		UserID:      strings.TrimSpace(msg.UserID),
		OrderID:     strings.TrimSpace(msg.OrderID),
		OrderValue:  money.FromDecimal(msg.OrderValue),
		Points:      msg.Points,
		CompletedAt: msg.CompletedAt.UTC(),
	}, nil
}
