package client

import (
	"context"
	"time"
)

// SetSleep replaces the wait between request attempts.
func SetSleep(c *Client, f func(ctx context.Context, d time.Duration) error) {
	c.sleep = f
}
