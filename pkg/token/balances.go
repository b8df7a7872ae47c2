package token

// Balances holds one identity's token state: scalar balances plus
// severity-bucketed counts. The debt ledger is stored separately.
type Balances struct {
	Scalars map[Kind]Amount             `json:"scalars"`
	Buckets map[Kind]map[Severity]int64 `json:"buckets"`
}

// NewBalances returns the baseline balances a fresh identity starts with:
// every recognized token at zero.
func NewBalances() Balances {
	b := Balances{
		Scalars: make(map[Kind]Amount, len(scalarKinds)),
		Buckets: make(map[Kind]map[Severity]int64, len(bucketedKinds)),
	}
	for k := range scalarKinds {
		b.Scalars[k] = 0
	}
	for k := range bucketedKinds {
		buckets := make(map[Severity]int64, 3)
		for _, sev := range Severities() {
			buckets[sev] = 0
		}
		b.Buckets[k] = buckets
	}
	return b
}

// Clone returns a deep copy.
func (b Balances) Clone() Balances {
	out := Balances{
		Scalars: make(map[Kind]Amount, len(b.Scalars)),
		Buckets: make(map[Kind]map[Severity]int64, len(b.Buckets)),
	}
	for k, v := range b.Scalars {
		out.Scalars[k] = v
	}
	for k, buckets := range b.Buckets {
		cp := make(map[Severity]int64, len(buckets))
		for sev, n := range buckets {
			cp[sev] = n
		}
		out.Buckets[k] = cp
	}
	return out
}

// Get returns the scalar balance for k.
func (b Balances) Get(k Kind) Amount { return b.Scalars[k] }

// Bucket returns the count for (k, sev).
func (b Balances) Bucket(k Kind, sev Severity) int64 {
	if buckets, ok := b.Buckets[k]; ok {
		return buckets[sev]
	}
	return 0
}

// Apply returns a new Balances with ds applied. Debt deltas are skipped
// here; the store routes them to the debt ledger. The receiver is not
// mutated, so a failed commit leaves no visible partial state.
func (b Balances) Apply(ds DeltaSet) (Balances, error) {
	if err := ds.Validate(); err != nil {
		return Balances{}, err
	}
	out := b.Clone()
	for _, d := range ds {
		switch {
		case IsScalar(d.Token):
			out.Scalars[d.Token] += d.Amount
		case IsBucketed(d.Token):
			if out.Buckets[d.Token] == nil {
				out.Buckets[d.Token] = make(map[Severity]int64, 3)
			}
			out.Buckets[d.Token][d.Bucket] += d.Count
		}
	}
	return out, nil
}
