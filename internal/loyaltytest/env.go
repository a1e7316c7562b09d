// Package loyaltytest builds an in-memory loyalty database for package tests.
package loyaltytest

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	accountrepo "github.com/smallbiznis/loyalty/internal/account/repository"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/events"
	"github.com/smallbiznis/loyalty/internal/migration"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Env is the shared wiring every loyalty service test needs.
type Env struct {
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    *clock.FakeClock
	Rules    *config.RulesHolder
	Outbox   *events.Outbox
	Accounts accountdomain.Repository
	Log      *zap.Logger
}

// NewEnv opens a private in-memory database starting the clock at start.
func NewEnv(t testing.TB, start time.Time) *Env {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// Each connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(start)

	return &Env{
		DB:       db,
		Node:     node,
		Clock:    clk,
		Rules:    config.NewStaticRulesHolder(config.DefaultRules()),
		Outbox:   events.NewOutbox(db, node, clk),
		Accounts: accountrepo.Provide(),
		Log:      zap.NewNop(),
	}
}

// CountEvents returns the number of outbox rows of the given type.
func (e *Env) CountEvents(t testing.TB, eventType string) int64 {
	t.Helper()
	var count int64
	if err := e.DB.Model(&events.LoyaltyEvent{}).Where("event_type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}
