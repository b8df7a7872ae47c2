package token

import (
	"errors"
	"fmt"
)

// ErrUnknownToken is returned when a delta names an unrecognized token kind.
var ErrUnknownToken = errors.New("token: unknown token kind")

// Delta is one signed mutation against a single token.
// Scalar kinds use Amount; bucketed kinds use Bucket+Count; the debt
// ledger uses Counterpart+Bucket+Count.
type Delta struct {
	Token       Kind     `json:"token"`
	Amount      Amount   `json:"amount,omitempty"`
	Bucket      Severity `json:"bucket,omitempty"`
	Count       int64    `json:"count,omitempty"`
	Counterpart string   `json:"counterpart,omitempty"`
}

// Validate checks that the delta names a known token and uses the fields
// appropriate to its shape.
func (d Delta) Validate() error {
	if !IsKnown(d.Token) {
		return fmt.Errorf("%w: %q", ErrUnknownToken, d.Token)
	}
	switch {
	case IsScalar(d.Token):
		if d.Bucket != "" || d.Count != 0 || d.Counterpart != "" {
			return fmt.Errorf("token: scalar delta on %s must only set amount", d.Token)
		}
	case IsBucketed(d.Token):
		if !ValidSeverity(d.Bucket) {
			return fmt.Errorf("token: bucketed delta on %s requires a valid severity, got %q", d.Token, d.Bucket)
		}
		if d.Amount != 0 || d.Counterpart != "" {
			return fmt.Errorf("token: bucketed delta on %s must only set bucket and count", d.Token)
		}
	case IsDebt(d.Token):
		if d.Counterpart == "" {
			return fmt.Errorf("token: debt delta requires a counterpart identity")
		}
		if !ValidSeverity(d.Bucket) {
			return fmt.Errorf("token: debt delta requires a valid severity, got %q", d.Bucket)
		}
	}
	return nil
}

// ValidateTemplate checks a delta in rule-table form. Debt deltas may
// omit the counterpart there: it is bound per event at classification
// time and re-validated on apply.
func (d Delta) ValidateTemplate() error {
	if !IsKnown(d.Token) {
		return fmt.Errorf("%w: %q", ErrUnknownToken, d.Token)
	}
	if IsDebt(d.Token) {
		if !ValidSeverity(d.Bucket) {
			return fmt.Errorf("token: debt delta requires a valid severity, got %q", d.Bucket)
		}
		return nil
	}
	return d.Validate()
}

// IsZero reports whether the delta mutates nothing.
func (d Delta) IsZero() bool { return d.Amount == 0 && d.Count == 0 }

// DeltaSet is an ordered collection of deltas applied atomically.
type DeltaSet []Delta

// Validate validates every delta in the set.
func (ds DeltaSet) Validate() error {
	for i, d := range ds {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("delta %d: %w", i, err)
		}
	}
	return nil
}

// Net returns the net scalar movement for kind k across the set.
func (ds DeltaSet) Net(k Kind) Amount {
	var total Amount
	for _, d := range ds {
		if d.Token == k {
			total += d.Amount
		}
	}
	return total
}

// NetCount returns the net bucket movement for (k, sev) across the set.
func (ds DeltaSet) NetCount(k Kind, sev Severity) int64 {
	var total int64
	for _, d := range ds {
		if d.Token == k && d.Bucket == sev {
			total += d.Count
		}
	}
	return total
}

// Touches reports whether any delta in the set mutates kind k.
func (ds DeltaSet) Touches(k Kind) bool {
	for _, d := range ds {
		if d.Token == k && !d.IsZero() {
			return true
		}
	}
	return false
}

// Scale returns a copy of the set with every scalar amount and bucket
// count multiplied by f, rounded half away from zero.
func (ds DeltaSet) Scale(f float64) DeltaSet {
	out := make(DeltaSet, len(ds))
	for i, d := range ds {
		scaled := d
		scaled.Amount = d.Amount.MulFloat(f)
		if d.Count != 0 {
			scaled.Count = int64(FromInt(d.Count).MulFloat(f).ScaleRat(1, 100))
		}
		out[i] = scaled
	}
	return out
}
