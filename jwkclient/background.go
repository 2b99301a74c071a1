package jwkclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	backgroundRefreshTimeout = 30 * time.Second
	// sharedRefreshTimeout bounds a coalesced fetch once it no longer
	// follows any single caller's context.
	sharedRefreshTimeout = time.Minute
)

// StartBackgroundRefresh runs Refresh on a cron schedule such as "@every 30m"
// or "0 * * * *", keeping keys warm so Validate rarely refreshes inline.
// Call Close to stop it.
func (c *Client) StartBackgroundRefresh(spec string) error {
	c.cronMu.Lock()
	defer c.cronMu.Unlock()
	if c.cron != nil {
		return errors.New("jwkclient: background refresh already running")
	}
	cr := cron.New()
	_, err := cr.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil {
			c.log.WithError(err).Warn("background jwks refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("jwkclient: invalid refresh schedule %q: %w", spec, err)
	}
	cr.Start()
	c.cron = cr
	c.log.WithField("schedule", spec).Info("background jwks refresh started")
	return nil
}

// Close stops background refresh, waiting for a running refresh to finish.
// The client remains usable for Validate afterwards.
func (c *Client) Close() error {
	c.cronMu.Lock()
	cr := c.cron
	c.cron = nil
	c.cronMu.Unlock()
	if cr == nil {
		return nil
	}
	<-cr.Stop().Done()
	return nil
}
