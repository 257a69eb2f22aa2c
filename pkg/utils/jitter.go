package utils

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Jitter spreads base by up to ±fraction so replicas started together do
// not hit shared backends in lockstep.
//
// Example: Jitter(time.Minute, 0.1) returns 54s-66s
func Jitter(base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || base <= 0 {
		return base
	}
	if fraction > 1 {
		fraction = 1
	}
	spread := float64(base) * fraction
	return base + time.Duration((rand.Float64()*2-1)*spread)
}

// JitteredTicker returns a channel that sends at independently jittered
// intervals. Slow receivers miss ticks rather than queueing them. The stop
// function is safe to call more than once and closes the channel.
func JitteredTicker(base time.Duration, fraction float64) (<-chan time.Time, func()) {
	ch := make(chan time.Time, 1)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(ch)
		for {
			timer := time.NewTimer(Jitter(base, fraction))
			select {
			case t := <-timer.C:
				select {
				case ch <- t:
				default:
				}
			case <-done:
				timer.Stop()
				return
			}
		}
	}()

	return ch, func() { once.Do(func() { close(done) }) }
}
