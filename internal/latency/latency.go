// Package latency emulates storage access latency on table and block
// accesses. It has no functional effect and exists to widen race windows in
// tests.
package latency

import "time"

// Injector is called on every simulated storage touch. A nil Injector does
// nothing.
type Injector func()

func (f Injector) Touch() {
	if f != nil {
		f()
	}
}

// Sleep returns an Injector that sleeps for d, or nil when d is not positive.
func Sleep(d time.Duration) Injector {
	if d <= 0 {
		return nil
	}
	return func() { time.Sleep(d) }
}
