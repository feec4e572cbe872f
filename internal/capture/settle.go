package capture

import (
	"context"
	"time"
)

// Settle waits until the output behind p has been quiet for quiet, measured
// from the later of the last received byte and since. It also returns as
// soon as the stream ends. If ceiling elapses first it returns with
// timedOut set; that is not an error. The only error is ctx's.
func Settle(ctx context.Context, p *Pump, since time.Time, quiet, ceiling, poll time.Duration) (waited time.Duration, timedOut bool, err error) {
	start := time.Now()
	deadline := start.Add(ceiling)
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if p.Finished() {
			return time.Since(start), false, nil
		}
		ref := p.LastByte()
		if ref.Before(since) {
			ref = since
		}
		now := time.Now()
		if now.Sub(ref) >= quiet {
			return now.Sub(start), false, nil
		}
		if !now.Before(deadline) {
			return now.Sub(start), true, nil
		}

		select {
		case <-ctx.Done():
			return time.Since(start), false, ctx.Err()
		case <-p.Done():
		case <-ticker.C:
		}
	}
}
