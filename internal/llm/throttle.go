package llm

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"golang.org/x/time/rate"
)

// Throttled limits how often the wrapped oracle is called.
type Throttled struct {
	next    Oracle
	limiter *rate.Limiter
}

// NewThrottled allows perMinute calls per minute with a burst of burst.
// perMinute <= 0 disables throttling.
func NewThrottled(next Oracle, perMinute, burst int) Oracle {
	if perMinute <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

// Judge waits for a slot, then delegates. A cancelled wait is reported as unavailable.
func (t *Throttled) Judge(ctx context.Context, req Request) (Verdict, error) {
	if err := validateRequest(req); err != nil {
		return Verdict{}, err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return Verdict{}, errors.Wrap(ErrOracleUnavailable, err.Error())
	}
	return t.next.Judge(ctx, req)
}
