package export

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"hub/cmd/internal/board"
)

// Scheduler exports the board to its destinations on a fixed interval.
type Scheduler struct {
	store        board.Store
	destinations []Destination
	interval     time.Duration
	now          func() time.Time
	log          *slog.Logger
}

func NewScheduler(store board.Store, destinations []Destination, interval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:        store,
		destinations: destinations,
		interval:     interval,
		now:          time.Now,
		log:          log,
	}
}

// Run exports once immediately, then on every tick until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("export: interval must be positive")
	}
	_ = s.Once(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = s.Once(ctx)
		}
	}
}

// Once runs a single export to every destination. A failing destination does
// not stop the others; the first error is returned.
func (s *Scheduler) Once(ctx context.Context) error {
	at := s.now().UTC()
	var buf bytes.Buffer
	counts, err := ExportJSONL(ctx, s.store, &buf, at)
	if err != nil {
		s.log.Error("export.snapshot.fail", "err", err)
		return err
	}

	var first error
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, buf.Bytes(), at); err != nil {
			s.log.Error("export.write.fail", "destination", i, "err", err)
			if first == nil {
				first = err
			}
		}
	}
	s.log.Info("export.done",
		"destinations", len(s.destinations),
		"bytes", buf.Len(),
		"categories", counts.Categories,
		"projects", counts.Projects,
		"tasks", counts.Tasks,
	)
	return first
}
