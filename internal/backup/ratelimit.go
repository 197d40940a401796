package backup

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewBandwidthLimiter caps copy throughput to bytesPerSec. It returns nil for
// a non-positive limit, meaning unlimited.
func NewBandwidthLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := 1 << 20
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// rateLimitedReader throttles reads through a shared limiter. Reads larger
// than the burst are split so WaitN never fails on size.
type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	if burst := rl.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := rl.r.Read(p)
	if n > 0 {
		if waitErr := rl.limiter.WaitN(rl.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
