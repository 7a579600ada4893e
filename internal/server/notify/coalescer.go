package notify

// DefaultThreshold is the minimum step, in percentage points, between two
// forwarded progress events.
const DefaultThreshold = 5.0

// Coalescer filters a job's raw progress values. The first value is always
// forwarded; after that a value passes when it is at least threshold above
// the last forwarded one, or when it first reaches 100. Values below the last
// forwarded one never pass, so observers see a non-decreasing sequence even
// across retried attempts.
//
// A Coalescer belongs to one job and is not safe for concurrent use.
type Coalescer struct {
	threshold float64
	last      float64
	sent      bool
}

func NewCoalescer(threshold float64) *Coalescer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Coalescer{threshold: threshold}
}

// Accept reports whether p should be forwarded and records it if so.
func (c *Coalescer) Accept(p float64) bool {
	switch {
	case !c.sent:
	case p >= 100 && c.last < 100:
	case p-c.last >= c.threshold:
	default:
		return false
	}
	c.sent = true
	c.last = p
	return true
}

// Last returns the last forwarded value.
func (c *Coalescer) Last() float64 {
	return c.last
}
