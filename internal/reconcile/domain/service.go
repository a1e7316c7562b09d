package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Report(ctx context.Context, userID, orderID string, expectedPoints int64, reason string) (MissingPointsReport, error)
	BeginInvestigation(ctx context.Context, reportID snowflake.ID) (MissingPointsReport, error)
	// Resolve credits creditedPoints through a correction entry written in
	// the same transaction as the status change.
	Resolve(ctx context.Context, reportID snowflake.ID, creditedPoints int64, note string) (MissingPointsReport, error)
	Reject(ctx context.Context, reportID snowflake.ID, note string) (MissingPointsReport, error)
	Get(ctx context.Context, reportID snowflake.ID) (MissingPointsReport, error)
	ListByUser(ctx context.Context, userID string) ([]MissingPointsReport, error)
}
