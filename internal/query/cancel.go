package query

import (
	"context"
	"log/slog"

	"github.com/hfsql/hfsql/internal/observability"
)

// Cancel interrupts the running query or discards the live stream. It is a
// no-op when nothing is running. When Cancel returns the connection is closed
// and a new ExecuteStream call is valid.
func (c *Client) Cancel(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateCancelling || (c.state == StateIdle && c.stream == nil) {
		c.mu.Unlock()
		return
	}
	gen, state := c.gen, c.state
	c.mu.Unlock()

	c.cancelGeneration(ctx, gen, state)
}

// cancelGeneration cancels gen if the client is still in the expected state.
func (c *Client) cancelGeneration(ctx context.Context, gen uint64, expected State) {
	c.mu.Lock()
	if c.gen != gen || c.state != expected {
		c.mu.Unlock()
		return
	}
	if expected == StateIdle && c.stream == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateCancelling
	c.mu.Unlock()

	observability.IncrementQueryCancellations()
	if conn := c.manager.current(); conn != nil {
		acknowledged, err := conn.CancelSent(ctx)
		if err != nil {
			c.logger.DebugContext(ctx, "cancel signal failed", slog.Any("error", err))
		} else if !acknowledged {
			c.logger.DebugContext(ctx, "query finished before cancel was acknowledged")
		}
	}
	c.teardown(gen)
	c.logger.InfoContext(ctx, "query cancelled")
}
