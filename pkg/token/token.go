// Package token defines the karmic token catalog and the fixed-point
// arithmetic every balance mutation goes through.
//
// Two shapes of token exist:
//   - scalar tokens carry a signed fixed 2-decimal balance (Amount),
//   - severity-bucketed tokens carry signed integer counts per bucket.
//
// Rnanubandhan is recognized as a token kind but lives in its own debt
// ledger keyed by counterpart identity; it never appears in Balances.
package token

import "fmt"

// Kind names a karmic token.
type Kind string

const (
	DharmaPoints   Kind = "dharma_points"
	SevaPoints     Kind = "seva_points"
	PunyaTokens    Kind = "punya_tokens"
	PaapTokens     Kind = "paap_tokens"
	DridhaKarma    Kind = "dridha_karma"
	AdridhaKarma   Kind = "adridha_karma"
	SanchitaKarma  Kind = "sanchita_karma"
	PrarabdhaKarma Kind = "prarabdha_karma"
	Rnanubandhan   Kind = "rnanubandhan"
)

// Severity buckets for bucketed tokens and debt entries.
type Severity string

const (
	SeverityMinor  Severity = "minor"
	SeverityMedium Severity = "medium"
	SeverityMajor  Severity = "major"
)

// scalarKinds carry a fixed 2-decimal balance.
var scalarKinds = map[Kind]bool{
	DharmaPoints:   true,
	SevaPoints:     true,
	PunyaTokens:    true,
	DridhaKarma:    true,
	AdridhaKarma:   true,
	SanchitaKarma:  true,
	PrarabdhaKarma: true,
}

// bucketedKinds carry signed integer counts per severity bucket.
var bucketedKinds = map[Kind]bool{
	PaapTokens: true,
}

// IsKnown reports whether k is a recognized token kind.
func IsKnown(k Kind) bool {
	return scalarKinds[k] || bucketedKinds[k] || k == Rnanubandhan
}

// IsScalar reports whether k carries a 2-decimal balance.
func IsScalar(k Kind) bool { return scalarKinds[k] }

// IsBucketed reports whether k carries per-severity counts.
func IsBucketed(k Kind) bool { return bucketedKinds[k] }

// IsDebt reports whether k is the counterpart-keyed debt ledger.
func IsDebt(k Kind) bool { return k == Rnanubandhan }

// ScalarKinds returns the scalar kinds in stable order.
func ScalarKinds() []Kind {
	return []Kind{
		DharmaPoints, SevaPoints, PunyaTokens,
		DridhaKarma, AdridhaKarma, SanchitaKarma, PrarabdhaKarma,
	}
}

// Severities returns the bucket severities in stable order.
func Severities() []Severity {
	return []Severity{SeverityMinor, SeverityMedium, SeverityMajor}
}

// ValidSeverity reports whether s is a recognized severity bucket.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityMinor, SeverityMedium, SeverityMajor:
		return true
	}
	return false
}

// ParseKind validates a wire-format kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !IsKnown(k) {
		return "", fmt.Errorf("token: unknown kind %q", s)
	}
	return k, nil
}
