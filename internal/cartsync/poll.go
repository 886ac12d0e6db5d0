package cartsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RefreshCount polls the cart summary and updates the badge. While the drawer is open it
// refreshes the full snapshot instead. A tick is skipped while a snapshot fetch or an
// earlier poll is in flight, and failures leave the last known badge in place.
func (c *Controller) RefreshCount(ctx context.Context) {
	if c.fetching.Load() > 0 {
		c.metrics.pollSkipped(ctx, "snapshot_in_flight")
		return
	}
	if !c.polling.CompareAndSwap(false, true) {
		c.metrics.pollSkipped(ctx, "poll_in_flight")
		return
	}
	defer c.polling.Store(false)

	c.mu.Lock()
	open := c.open
	c.mu.Unlock()

	if open {
		if _, err := c.sharedSnapshot(ctx); err != nil {
			c.logger.Debug("drawer refresh failed", zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	tag := c.badge.tag()
	c.mu.Unlock()

	summary, err := c.svc.Summary(ctx)
	if err != nil {
		c.logger.Debug("cart count poll failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.applyCountLocked(ctx, tag, summary.Count, sourcePoll)
	c.mu.Unlock()
}

// Run refreshes the badge immediately and then on every poll interval until ctx is done.
// Each poll runs on its own goroutine so a slow one never delays the ticker; Run waits for
// outstanding polls before returning.
func (c *Controller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	poll := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RefreshCount(ctx)
		}()
	}

	c.logger.Debug("cart poller started", zap.Duration("interval", c.interval))
	poll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("cart poller stopped")
			return nil
		case <-ticker.C:
			poll()
		}
	}
}
