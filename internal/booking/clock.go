package booking

import "time"

// Clock abstracts time.Now so policy and expiry decisions are testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
