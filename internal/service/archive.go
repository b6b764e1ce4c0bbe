package service

import (
	"context"
	"log/slog"
	"time"
)

// RunArchiver snapshots the trader state to the archive every interval until
// ctx is cancelled. It is a no-op without an archiver. Nothing is uploaded
// while the ledger is unchanged since the last run.
func (r *Recorder) RunArchiver(ctx context.Context, interval time.Duration) error {
	if r.deps.Archiver == nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			last = r.archiveIfChanged(ctx, last)
		}
	}
}

// archiveIfChanged uploads the state when it was updated after last and
// returns the UpdatedAt of whatever was archived.
func (r *Recorder) archiveIfChanged(ctx context.Context, last time.Time) time.Time {
	st := r.deps.State()
	if !st.UpdatedAt.After(last) {
		return last
	}
	prefix, err := r.deps.Archiver.ArchiveState(ctx, *st, "interval", r.now())
	if err != nil {
		r.warn(ctx, "interval archive failed", err)
		return last
	}
	r.logger.InfoContext(ctx, "state archived",
		slog.String("prefix", prefix),
		slog.String("reason", "interval"),
		slog.Int("trades", len(st.Trades)),
	)
	return st.UpdatedAt
}
