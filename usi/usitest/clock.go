package usitest

import (
	"sync"
	"time"
)

// Clock is a fake time source that only moves when slept on.
type Clock struct {
	mx  sync.Mutex
	now time.Time
	// Jitter, when set, alters every sleep, e.g. to model early wake-ups.
	Jitter func(d time.Duration) time.Duration
	slept  time.Duration
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.now
}

func (c *Clock) Sleep(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.Jitter != nil {
		d = c.Jitter(d)
	}
	if d < 0 {
		d = 0
	}
	c.now = c.now.Add(d)
	c.slept += d
}

func (c *Clock) Advance(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.now = c.now.Add(d)
}

// Slept returns the total time spent sleeping.
func (c *Clock) Slept() time.Duration {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.slept
}
