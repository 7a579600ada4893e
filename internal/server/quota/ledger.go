// Package quota holds the accounting rules that decide whether a transfer
// fits an account's storage capacity. It performs no I/O.
//
// A nil limit means the account is unlimited.
package quota

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	// Required and Available are set on a denial.
	Required  int64
	Available int64
}

// Usage is a used/limit pair as reported by a provider or cached on an account.
type Usage struct {
	Used  int64
	Limit *int64
}

// HasQuotaAvailable reports whether required more bytes fit under limit.
func HasQuotaAvailable(limit *int64, used, required int64) bool {
	if limit == nil {
		return true
	}
	return used+required <= *limit
}

// Check returns Allow or Deny(required, available) for an incoming transfer.
func Check(limit *int64, used, required int64) Decision {
	if HasQuotaAvailable(limit, used, required) {
		return Decision{Allowed: true}
	}
	return Decision{Required: required, Available: Available(limit, used)}
}

// Available is the headroom left under limit, never negative. It returns -1
// for an unlimited account.
func Available(limit *int64, used int64) int64 {
	if limit == nil {
		return -1
	}
	if used >= *limit {
		return 0
	}
	return *limit - used
}

// PercentageUsed returns used/limit*100. It is not clamped: a value above
// 100 means the cache has drifted past the provider's limit.
func PercentageUsed(limit *int64, used int64) float64 {
	if limit == nil || *limit == 0 {
		return 0
	}
	return float64(used) / float64(*limit) * 100
}

// Apply books a confirmed transfer of transferred bytes on top of base.
// It must be called only after the provider finalized the object, with the
// byte count actually sent.
func Apply(base Usage, transferred int64) Usage {
	if transferred < 0 {
		transferred = 0
	}
	out := Usage{Used: base.Used + transferred}
	if base.Limit != nil {
		l := *base.Limit
		out.Limit = &l
	}
	return out
}
