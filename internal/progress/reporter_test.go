package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/remote"
	"cardsync-go/internal/testutil"
)

type stubCaller struct {
	outcome remote.Outcome
	err     error
	calls   []remote.SessionProgressRequest
}

func (s *stubCaller) Call(_ context.Context, p agent.Payload) (remote.Result, error) {
	if s.err != nil {
		return remote.Result{}, s.err
	}
	s.calls = append(s.calls, p.(remote.SessionProgressRequest))
	return remote.Result{Outcome: s.outcome}, nil
}

func newTestReporter(outcome remote.Outcome) (*Reporter, *stubCaller, *testutil.StubClock) {
	clock := testutil.FixedClock()
	c := &stubCaller{outcome: outcome}
	return NewReporter(c, 5*time.Second, clock, agent.NewNopLogger()), c, clock
}

func TestReporter_Report(t *testing.T) {
	ctx := context.Background()

	t.Run("first report is sent", func(t *testing.T) {
		r, c, _ := newTestReporter(remote.Sent)
		got, err := r.Report(ctx, "s-1", 1, 9)
		if err != nil {
			t.Fatalf("Report() error = %v", err)
		}
		if got != Sent || len(c.calls) != 1 {
			t.Errorf("Report() = %v, calls = %d", got, len(c.calls))
		}
	})

	t.Run("offline report is queued", func(t *testing.T) {
		r, _, _ := newTestReporter(remote.Queued)
		got, err := r.Report(ctx, "s-1", 1, 9)
		if err != nil || got != Queued {
			t.Errorf("Report() = %v, %v; want queued", got, err)
		}
	})

	t.Run("duplicate is skipped", func(t *testing.T) {
		r, c, clock := newTestReporter(remote.Sent)
		_, _ = r.Report(ctx, "s-1", 1, 9)
		clock.Advance(time.Minute)
		got, _ := r.Report(ctx, "s-1", 1, 9)
		if got != Skipped || len(c.calls) != 1 {
			t.Errorf("Report() = %v, calls = %d; want skipped, 1", got, len(c.calls))
		}
	})

	t.Run("throttled within interval", func(t *testing.T) {
		r, c, clock := newTestReporter(remote.Sent)
		_, _ = r.Report(ctx, "s-1", 1, 9)
		clock.Advance(time.Second)
		got, _ := r.Report(ctx, "s-1", 2, 8)
		if got != Skipped || len(c.calls) != 1 {
			t.Fatalf("Report() = %v, calls = %d; want skipped, 1", got, len(c.calls))
		}
		if p := r.Pending(); p == nil || p.FilesCopied != 2 {
			t.Errorf("Pending() = %+v, want copied 2", p)
		}

		clock.Advance(5 * time.Second)
		got, _ = r.Report(ctx, "s-1", 3, 7)
		if got != Sent || len(c.calls) != 2 || c.calls[1].FilesCopied != 3 {
			t.Errorf("Report() after interval = %v, calls = %+v", got, c.calls)
		}
		if r.Pending() != nil {
			t.Error("Pending() not cleared after delivery")
		}
	})

	t.Run("flush delivers pending once", func(t *testing.T) {
		r, c, clock := newTestReporter(remote.Sent)
		_, _ = r.Report(ctx, "s-1", 1, 9)
		clock.Advance(time.Second)
		_, _ = r.Report(ctx, "s-1", 4, 6)

		got, err := r.FlushPending(ctx)
		if err != nil || got != Sent {
			t.Fatalf("FlushPending() = %v, %v", got, err)
		}
		if len(c.calls) != 2 || c.calls[1].FilesCopied != 4 {
			t.Errorf("calls = %+v", c.calls)
		}
		got, _ = r.FlushPending(ctx)
		if got != Skipped {
			t.Errorf("second FlushPending() = %v, want skipped", got)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		r, _, _ := newTestReporter(remote.Sent)
		if _, err := r.Report(ctx, "", 1, 1); !errors.Is(err, agent.ErrInvalidPayload) {
			t.Errorf("Report() error = %v, want ErrInvalidPayload", err)
		}
	})

	t.Run("caller error keeps update pending", func(t *testing.T) {
		r, c, _ := newTestReporter(remote.Sent)
		c.err = errors.New("disk full")
		if _, err := r.Report(ctx, "s-1", 1, 1); err == nil {
			t.Fatal("Report() error = nil")
		}
		c.err = nil
		got, err := r.FlushPending(ctx)
		if err != nil || got != Sent || len(c.calls) != 1 {
			t.Errorf("FlushPending() = %v, %v; calls = %d", got, err, len(c.calls))
		}
	})
}
