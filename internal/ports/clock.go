package ports

import "time"

// Clock abstracts time so sessions can run against a live clock or a fixed
// test clock. Injected via constructors, never read from a module-level flag.
type Clock interface {
	Now() time.Time
}

// SystemClock is the live clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
