package station

import (
	"time"

	"periph.io/x/host/v3/cpu"
)

// Clock is the time source used for bus timing and conversion delays.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock spins for sub-millisecond delays and sleeps otherwise.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if d < time.Millisecond {
		cpu.Nanospin(d)
		return
	}
	time.Sleep(d)
}
