package bluesky

import (
	"context"
	"time"
)

const maxAttempts = 5

// retry runs fn, retrying transient failures with doubling backoff. Expired
// tokens trigger one re-authentication; any other client error propagates
// immediately.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	backoff := 500 * time.Millisecond
	reauthed := false

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		if IsExpiredToken(err) && c.identifier != "" && !reauthed {
			c.logger.Info("session expired, re-authenticating", "op", op)
			if loginErr := c.Login(ctx); loginErr != nil {
				return loginErr
			}
			reauthed = true
			continue
		}

		if !IsTransient(err) || attempt == maxAttempts {
			return err
		}

		c.logger.Warn("transient api error, retrying",
			"op", op, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
