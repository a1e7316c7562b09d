package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/money"
)

type Service interface {
	Catalog() []CatalogEntry
	Redeem(ctx context.Context, userID, catalogEntryID string) (Voucher, error)
	ApplyToOrder(ctx context.Context, voucherID snowflake.ID, orderID string, orderSubtotal money.Amount) (Voucher, error)
	Cancel(ctx context.Context, voucherID snowflake.ID) (Voucher, error)
	ExpireStaleVouchers(ctx context.Context, asOf time.Time) (int, error)
	Get(ctx context.Context, voucherID snowflake.ID) (Voucher, error)
	List(ctx context.Context, userID string, filter ListFilter) ([]Voucher, error)
}
