package ports

import (
	"math/rand/v2"
	"time"
)

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// SystemRandom is the production Random.
type SystemRandom struct{}

func (SystemRandom) Int64() int64 { return rand.Int64() }
