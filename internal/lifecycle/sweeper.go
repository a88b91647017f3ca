package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coldvault/coldvault/internal/store"
)

// DefaultSweepInterval is how often the retention sweep runs.
const DefaultSweepInterval = 24 * time.Hour

// stopTimeout bounds how long Stop waits for the loop to join.
const stopTimeout = 10 * time.Second

// SweepError records one per-entity failure; it never aborts the batch.
type SweepError struct {
	Type  store.EntityType `json:"type"`
	ID    string           `json:"id"`
	Error string           `json:"error"`
}

// SweepSummary is the structured result of one sweep pass, logged to the
// audit trail at sweep end.
type SweepSummary struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Checked    int          `json:"checked"`
	Deleted    int          `json:"deleted"`
	Skipped    int          `json:"skipped"`
	Errors     []SweepError `json:"errors,omitempty"`
}

// Sweeper is the background loop that finds retention-eligible entities and
// triggers secure erasure.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper over the given manager. interval <= 0 uses
// the daily default.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		manager:  m,
		interval: interval,
		logger:   m.logger.With().Str("component", "sweeper").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start() {
	sw.wg.Add(1)
	go sw.run()
	sw.logger.Info().Dur("interval", sw.interval).Msg("sweeper started")
}

// Stop signals the loop to exit and joins it with a bounded timeout.
func (sw *Sweeper) Stop() error {
	sw.cancel()

	done := make(chan struct{})
	go func() {
		sw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		sw.logger.Info().Msg("sweeper stopped")
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("sweeper did not stop within %s", stopTimeout)
	}
}

func (sw *Sweeper) run() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.ctx.Done():
			return
		case <-ticker.C:
			summary := sw.manager.Sweep(sw.ctx)
			sw.logger.Info().
				Str("run_id", summary.RunID).
				Int("checked", summary.Checked).
				Int("deleted", summary.Deleted).
				Int("skipped", summary.Skipped).
				Int("errors", len(summary.Errors)).
				Msg("sweep complete")
		}
	}
}

// Sweep runs one retention pass: for every sweepable entity type, entities
// in COMPLETED or BACKED_UP state are re-checked against the guards; fully
// eligible ones are marked for deletion and securely wiped. Per-entity
// failures are recorded and the batch continues. The summary is appended to
// the audit trail.
func (m *Manager) Sweep(ctx context.Context) *SweepSummary {
	summary := &SweepSummary{
		RunID:     uuid.NewString(),
		StartedAt: m.now().UTC(),
	}

	for _, typ := range sweepableTypes() {
		select {
		case <-ctx.Done():
			m.finishSweep(summary)
			return summary
		default:
		}

		metas, err := m.store.List(typ, 0)
		if err != nil {
			summary.Errors = append(summary.Errors, SweepError{
				Type: typ, Error: err.Error(),
			})
			continue
		}

		for i := range metas {
			select {
			case <-ctx.Done():
				m.finishSweep(summary)
				return summary
			default:
			}

			meta := &metas[i]
			state := State(meta.LifecycleState)
			if state != StateCompleted && state != StateBackedUp {
				continue
			}
			summary.Checked++

			if err := m.Transition(typ, meta.ID, StateMarkedForDeletion, false); err != nil {
				var guardErr *GuardsFailedError
				if errors.As(err, &guardErr) {
					summary.Skipped++
					continue
				}
				summary.Errors = append(summary.Errors, SweepError{
					Type: typ, ID: meta.ID, Error: err.Error(),
				})
				continue
			}

			result, err := m.SecureDelete(typ, meta.ID)
			if err != nil {
				summary.Errors = append(summary.Errors, SweepError{
					Type: typ, ID: meta.ID, Error: err.Error(),
				})
				continue
			}
			if !result.AllVerified {
				summary.Errors = append(summary.Errors, SweepError{
					Type: typ, ID: meta.ID, Error: "wipe verification failed",
				})
				continue
			}
			summary.Deleted++
		}
	}

	m.finishSweep(summary)
	return summary
}

func (m *Manager) finishSweep(summary *SweepSummary) {
	summary.FinishedAt = m.now().UTC()
	m.appendAudit(transitionRecord{
		Timestamp: summary.FinishedAt,
		Event:     "sweep",
		Sweep:     summary,
	})
	if m.metrics != nil {
		m.metrics.SweepRuns.Inc()
		m.metrics.SweepDeleted.Add(float64(summary.Deleted))
		m.metrics.SweepErrors.Add(float64(len(summary.Errors)))
	}
}
