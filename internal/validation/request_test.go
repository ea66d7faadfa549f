package validation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateDTCParticipantNumber(t *testing.T) {
	t.Parallel()

	valid := []string{"0001", "1234", "9999"}
	for _, n := range valid {
		if err := ValidateDTCParticipantNumber(n); err != nil {
			t.Errorf("expected %q valid, got %v", n, err)
		}
	}

	invalid := []string{"", "123", "12345", "12a4", " 1234", "12-4"}
	for _, n := range invalid {
		if err := ValidateDTCParticipantNumber(n); err == nil {
			t.Errorf("expected %q invalid", n)
		}
	}
}

func TestValidateCusip(t *testing.T) {
	t.Parallel()

	valid := []string{"037833100", "12345678A", "ABCDEF", "  037833100  "}
	for _, c := range valid {
		if err := ValidateCusip("unit", c); err != nil {
			t.Errorf("expected %q valid, got %v", c, err)
		}
	}

	invalid := []string{"", "12345", "1234567890", "03783-100"}
	for _, c := range invalid {
		if err := ValidateCusip("unit", c); err == nil {
			t.Errorf("expected %q invalid", c)
		}
	}

	// The label names the failing security for multi-pair requests.
	err := ValidateCusip("class A", "")
	if err == nil || err.Error() != "class A CUSIP is required" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestValidateQuantity(t *testing.T) {
	t.Parallel()

	if err := ValidateQuantity("unit", decimal.NewFromInt(1)); err != nil {
		t.Errorf("expected positive quantity valid, got %v", err)
	}
	if err := ValidateQuantity("unit", decimal.NewFromFloat(0.5)); err != nil {
		t.Errorf("expected fractional quantity valid, got %v", err)
	}
	if err := ValidateQuantity("unit", decimal.Zero); err == nil {
		t.Error("expected zero quantity invalid")
	}
	if err := ValidateQuantity("unit", decimal.NewFromInt(-10)); err == nil {
		t.Error("expected negative quantity invalid")
	}
}

func TestValidateRejectionReason(t *testing.T) {
	t.Parallel()

	if err := ValidateRejectionReason("missing medallion guarantee"); err != nil {
		t.Errorf("expected valid reason, got %v", err)
	}
	for _, r := range []string{"", "   ", "no", " abcd "} {
		if err := ValidateRejectionReason(r); err == nil {
			t.Errorf("expected %q invalid", r)
		}
	}
}
