package domain

import "errors"

var (
	ErrReportNotFound         = errors.New("report_not_found")
	ErrDuplicateReport        = errors.New("duplicate_report")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrInvalidOrderID         = errors.New("invalid_order_id")
	ErrInvalidExpectedPoints  = errors.New("invalid_expected_points")
	ErrInvalidCreditedPoints  = errors.New("invalid_credited_points")
)
