package scheduler

import (
	"math/rand"
	"sync"
	"time"
)

const (
	retryBase     = 500 * time.Millisecond
	retryMaxDelay = 15 * time.Second
	retryJitter   = 0.2
)

// backoffDelay returns the wait before retry number `retry` (1-based):
// exponential growth from retryBase, capped, with jitter in [1-j, 1+j].
func backoffDelay(retry int) time.Duration {
	d := retryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > retryMaxDelay {
			d = retryMaxDelay
			break
		}
	}
	r := (randFloat64()*2 - 1) * retryJitter
	d = time.Duration(float64(d) * (1 + r))
	if d < 0 {
		d = 0
	}
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}
