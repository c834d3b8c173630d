package httpcore

import "context"

// tryRefresh runs the registered refresh callback behind a single-slot
// non-blocking gate. Concurrent 401s coalesce: the first caller refreshes,
// everyone else gets ErrRefreshInFlight immediately. The gate is a channel,
// not a mutex, so a refresh that itself triggers a 401 (refresh → verify →
// 401) re-enters here and returns instead of deadlocking.
func (c *Client) tryRefresh(ctx context.Context) error {
	if c.refresh == nil {
		return ErrNoRefresh
	}
	select {
	case c.refreshGate <- struct{}{}:
	default:
		return ErrRefreshInFlight
	}
	defer func() { <-c.refreshGate }()

	token, err := c.refresh(ctx)
	if err != nil {
		return err
	}
	c.SetToken(token)
	return nil
}
