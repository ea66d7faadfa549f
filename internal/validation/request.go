// Package validation contains input validation rules for transfer requests.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	dtcParticipantRegex = regexp.MustCompile(`^[0-9]{4}$`)
	cusipRegex          = regexp.MustCompile(`^[A-Za-z0-9]{6,9}$`)
)

// MinRejectionReasonLength is the minimum effective length of a rejection
// reason. Empty or near-empty reasons are rejected before any transition.
const MinRejectionReasonLength = 5

// ValidateDTCParticipantNumber validates a DTC participant number, which must
// be exactly 4 digits.
func ValidateDTCParticipantNumber(number string) error {
	if !dtcParticipantRegex.MatchString(number) {
		return fmt.Errorf("DTC participant number must be exactly 4 digits")
	}
	return nil
}

// ValidateCusip validates that a CUSIP is present and plausibly formed. The
// label names which of the request's securities failed.
func ValidateCusip(label, cusip string) error {
	cusip = strings.TrimSpace(cusip)
	if cusip == "" {
		return fmt.Errorf("%s CUSIP is required", label)
	}
	if !cusipRegex.MatchString(cusip) {
		return fmt.Errorf("%s CUSIP must be 6-9 alphanumeric characters", label)
	}
	return nil
}

// ValidateQuantity validates that a share quantity is a positive amount.
func ValidateQuantity(label string, qty decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%s quantity must be greater than zero", label)
	}
	return nil
}

// ValidateRejectionReason enforces the minimum effective reason length.
func ValidateRejectionReason(reason string) error {
	if len(strings.TrimSpace(reason)) < MinRejectionReasonLength {
		return fmt.Errorf("rejection reason must be at least %d characters", MinRejectionReasonLength)
	}
	return nil
}
