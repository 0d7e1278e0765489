package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingDelay pads failed authentication paths so "no such account",
// "wrong password", and "account lockout" all take about the same
// time. Successful logins return immediately.
type TimingDelay struct {
	base   time.Duration
	jitter int
}

// NewTimingDelay configures the fixed and random components in
// milliseconds.
func NewTimingDelay(baseMs, jitterMs int) *TimingDelay {
	return &TimingDelay{
		base:   time.Duration(baseMs) * time.Millisecond,
		jitter: jitterMs,
	}
}

// Wait sleeps for the padded duration when success is false.
func (td *TimingDelay) Wait(success bool) {
	if success {
		return
	}
	time.Sleep(td.base + td.randomJitter())
}

// WaitFrom sleeps only for the remainder of the padded duration, so
// work already done (a real hash comparison, say) counts toward it.
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if success {
		return
	}
	target := td.base + td.randomJitter()
	if elapsed := time.Since(start); elapsed < target {
		time.Sleep(target - elapsed)
	}
}

func (td *TimingDelay) randomJitter() time.Duration {
	if td.jitter <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	n := binary.BigEndian.Uint64(buf[:]) % uint64(td.jitter)
	return time.Duration(n) * time.Millisecond
}
