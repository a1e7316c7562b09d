package events

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event describes a loyalty event to store in the outbox.
type Event struct {
	UserID    string
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Outbox inserts loyalty events into the loyalty_events table.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

var Module = fx.Module("events",
	fx.Provide(New),
)

func New(p Params) *Outbox {
	return NewOutbox(p.DB, p.GenID, p.Clock)
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) *Outbox {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Outbox{db: db, genID: genID, clock: clk}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	if o == nil {
		return errors.New("outbox_unavailable")
	}
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	if strings.TrimSpace(event.UserID) == "" {
		return errors.New("invalid_user_id")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	var dedupeValue any
	if dedupe := strings.TrimSpace(event.DedupeKey); dedupe != "" {
		dedupeValue = dedupe
	}

	return db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_events (id, user_id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, false, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		event.UserID,
		name,
		payload,
		dedupeValue,
		o.clock.Now(),
	).Error
}

// Pending returns unpublished events, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]LoyaltyEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []LoyaltyEvent
	err := o.db.WithContext(ctx).
		Where("published = ?", false).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkPublished flags events as delivered. Unknown ids are ignored.
func (o *Outbox) MarkPublished(ctx context.Context, ids ...snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	now := o.clock.Now()
	return o.db.WithContext(ctx).
		Model(&LoyaltyEvent{}).
		Where("id IN ? AND published = ?", ids, false).
		Updates(map[string]any{"published": true, "published_at": now}).Error
}
