package domain

import "github.com/google/uuid"

// ValidateUserID accepts canonical auth-backend user UUIDs.
func ValidateUserID(userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return ErrInvalidUser
	}
	return nil
}

// ValidateEntry checks kind/sign consistency before an entry is persisted.
func ValidateEntry(e PointsLedgerEntry) error {
	if err := ValidateUserID(e.UserID); err != nil {
		return err
	}
	if !e.Kind.Valid() {
		return invalid("kind", "is unknown")
	}

	switch {
	case e.Kind.Earning():
		if e.Points <= 0 {
			return invalid("points", "must be positive for "+string(e.Kind))
		}
	case e.Kind == KindRedemption, e.Kind == KindExpiry:
		if e.Points > 0 {
			return invalid("points", "must not be positive for "+string(e.Kind))
		}
	case e.Kind == KindCorrection:
		if e.Points == 0 {
			return invalid("points", "must not be zero for correction")
		}
	}

	if e.Kind == KindExpiry && e.OffsetsEntryID == nil {
		return invalid("offsets_entry_id", "is required for expiry")
	}
	if e.Kind != KindExpiry && e.OffsetsEntryID != nil {
		return invalid("offsets_entry_id", "is only allowed for expiry")
	}
	if e.OrderValue < 0 {
		return invalid("order_value", "must not be negative")
	}
	if e.Kind != KindPurchase && e.OrderValue != 0 {
		return invalid("order_value", "is only allowed for purchase")
	}
	return nil
}
