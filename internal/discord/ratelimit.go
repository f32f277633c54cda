package discord

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedChannels caps the limiter map to prevent unbounded growth
	// when the bot sits in many guilds.
	maxTrackedChannels = 4096

	// Discord allows 5 webhook executions per 2 seconds per webhook.
	dispatchInterval = 2 * time.Second / 5
	dispatchBurst    = 5

	limiterIdleTTL = 10 * time.Minute
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// dispatchLimiter paces webhook executions per channel.
// Safe for concurrent use.
type dispatchLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newDispatchLimiter() *dispatchLimiter {
	return &dispatchLimiter{entries: make(map[string]*limiterEntry)}
}

// wait blocks until the channel's limiter admits one dispatch or ctx is done.
func (d *dispatchLimiter) wait(ctx context.Context, channelID string) error {
	d.mu.Lock()
	now := time.Now()

	if len(d.entries) >= maxTrackedChannels {
		for k, e := range d.entries {
			if now.Sub(e.lastUsed) >= limiterIdleTTL {
				delete(d.entries, k)
			}
		}
		// Hard eviction if pruning freed nothing.
		for len(d.entries) >= maxTrackedChannels {
			for k := range d.entries {
				delete(d.entries, k)
				break
			}
		}
	}

	e, ok := d.entries[channelID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(dispatchInterval), dispatchBurst)}
		d.entries[channelID] = e
	}
	e.lastUsed = now
	d.mu.Unlock()

	return e.lim.Wait(ctx)
}
