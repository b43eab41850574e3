package flow

import "time"

// Clock supplies non-decreasing millisecond timestamps.
type Clock interface {
	NowMillis() int64
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() int64

// NowMillis calls f.
func (f ClockFunc) NowMillis() int64 {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// NowMillis returns Unix time in milliseconds.
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}
