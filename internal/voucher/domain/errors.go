package domain

import "errors"

var (
	ErrCatalogEntryNotFound   = errors.New("catalog_entry_not_found")
	ErrVoucherNotFound        = errors.New("voucher_not_found")
	ErrVoucherNotActive       = errors.New("voucher_not_active")
	ErrVoucherExpired         = errors.New("voucher_expired")
	ErrMinimumOrderNotMet     = errors.New("minimum_order_not_met")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrOrderAlreadyHasVoucher = errors.New("order_already_has_voucher")
	ErrTierNotEligible        = errors.New("tier_not_eligible")
	ErrInvalidOrder           = errors.New("invalid_order")
	ErrInvalidStatus          = errors.New("invalid_status")
)
