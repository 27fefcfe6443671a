package stream

import "time"

// SetAfterFunc replaces the reconnect scheduler. Call before Open.
func SetAfterFunc(s *Session, f func(d time.Duration, fn func()) *time.Timer) {
	s.afterFunc = f
}
