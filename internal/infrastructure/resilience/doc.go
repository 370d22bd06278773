/*
Package resilience provides the retry and circuit breaker primitives used on
the control-plane link.

# Backoff

Backoff retries an operation with capped exponential waits until it succeeds,
returns a Permanent error, or a deadline passes. The deadline is checked after
each failed attempt, so a zero timeout still makes one attempt.

	attempts, err := resilience.ConnectBackoff().Retry(ctx, deadline, func(ctx context.Context, n int) error {
		conn, err := dial(ctx)
		if errors.Is(err, ErrAuthentication) {
			return resilience.Permanent(err)
		}
		return err
	})

# Breaker

Breaker implements the three-state circuit breaker:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open

Use Run for typed results:

	conn, err := resilience.Run(breaker, func() (*Conn, error) {
		return supervisor.acquire(ctx)
	})
*/
package resilience
