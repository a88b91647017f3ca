package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/coldvault/coldvault/internal/fsio"
	"github.com/coldvault/coldvault/internal/metrics"
	"github.com/coldvault/coldvault/internal/store"
	"github.com/coldvault/coldvault/internal/wipe"
)

// Manager owns lifecycle metadata mutation and the deletion-guard decision.
// It is the sole writer of audit/lifecycle.log.
type Manager struct {
	store    *store.Store
	wiper    *wipe.Wiper
	auditLog string
	logger   zerolog.Logger
	metrics  *metrics.EngineMetrics // nil disables instrumentation

	// now is overridable so retention-age tests don't need 30-day sleeps.
	now func() time.Time
}

// New creates a lifecycle manager over the given store and wiper. The audit
// trail lives under the store's audit subtree.
func New(s *store.Store, w *wipe.Wiper, logger zerolog.Logger, m *metrics.EngineMetrics) (*Manager, error) {
	auditDir := s.TypeDir(store.TypeAudit)
	if err := os.MkdirAll(auditDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Manager{
		store:    s,
		wiper:    w,
		auditLog: filepath.Join(auditDir, "lifecycle.log"),
		logger:   logger.With().Str("component", "lifecycle").Logger(),
		metrics:  m,
		now:      time.Now,
	}, nil
}

// transitionRecord is one line in the lifecycle audit log.
type transitionRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Event     string           `json:"event"`
	Type      store.EntityType `json:"type,omitempty"`
	ID        string           `json:"id,omitempty"`
	OldState  State            `json:"old_state,omitempty"`
	NewState  State            `json:"new_state,omitempty"`
	Forced    bool             `json:"forced,omitempty"`
	Sweep     *SweepSummary    `json:"sweep,omitempty"`
}

// Transition moves an entity to a new lifecycle state. The state table is
// always enforced; the five deletion guards are evaluated additionally for
// MARKED_FOR_DELETION unless force is set (administrative override).
// Successful transitions are appended to the audit trail.
func (m *Manager) Transition(typ store.EntityType, id string, newState State, force bool) error {
	// The whole check-then-set runs under the entity lock so a concurrent
	// flag update or competing transition cannot be lost or bypass the
	// guards.
	var oldState State
	_, err := m.store.UpdateMetadata(typ, id, func(meta *store.Metadata) error {
		oldState = State(meta.LifecycleState)

		if !canTransition(oldState, newState) {
			return &InvalidTransitionError{
				From:  oldState,
				To:    newState,
				Valid: ValidTargets(oldState),
			}
		}

		if newState == StateMarkedForDeletion && !force {
			report := evaluateGuards(meta, m.now())
			if !report.AllPass() {
				if m.metrics != nil {
					m.metrics.GuardsFailed.Inc()
				}
				return &GuardsFailedError{Report: report}
			}
		}

		meta.LifecycleState = string(newState)
		return nil
	})
	if err != nil {
		return err
	}

	m.appendAudit(transitionRecord{
		Timestamp: m.now().UTC(),
		Event:     "transition",
		Type:      typ,
		ID:        id,
		OldState:  oldState,
		NewState:  newState,
		Forced:    force,
	})

	if m.metrics != nil {
		m.metrics.Transitions.WithLabelValues(string(oldState), string(newState)).Inc()
	}

	m.logger.Info().
		Str("type", string(typ)).Str("id", id).
		Str("old", string(oldState)).Str("new", string(newState)).
		Bool("forced", force).
		Msg("lifecycle transition")

	return nil
}

// SetFlags updates the verification/hold flags the guards read. The store
// sets none of these; they are owned by the lifecycle layer and its
// collaborators (backup verification, integrity checks, legal review).
func (m *Manager) SetFlags(typ store.EntityType, id string, mutate func(*store.Metadata)) error {
	_, err := m.store.UpdateMetadata(typ, id, func(meta *store.Metadata) error {
		mutate(meta)
		return nil
	})
	return err
}

// PreviewEntry reports whether one entity would pass deletion guards.
type PreviewEntry struct {
	Type     store.EntityType `json:"type"`
	ID       string           `json:"id"`
	State    State            `json:"state"`
	Report   GuardReport      `json:"report"`
	Eligible bool             `json:"eligible"`
}

// DeletionPreview simulates guard evaluation for every entity of the given
// types (all sweepable types when none are given) without mutating
// anything.
func (m *Manager) DeletionPreview(types ...store.EntityType) ([]PreviewEntry, error) {
	if len(types) == 0 {
		types = sweepableTypes()
	}

	now := m.now()
	var entries []PreviewEntry
	for _, typ := range types {
		metas, err := m.store.List(typ, 0)
		if err != nil {
			return nil, err
		}
		for i := range metas {
			report := evaluateGuards(&metas[i], now)
			entries = append(entries, PreviewEntry{
				Type:     typ,
				ID:       metas[i].ID,
				State:    State(metas[i].LifecycleState),
				Report:   report,
				Eligible: report.AllPass(),
			})
		}
	}
	return entries, nil
}

// SecureDelete marks an entity for deletion (guards already validated by
// the caller via Transition) and hands its files to the wiper. The cache
// entry is dropped and the terminal DELETED transition is audited; the
// metadata file itself is destroyed, so DELETED lives only in the audit
// trail.
func (m *Manager) SecureDelete(typ store.EntityType, id string) (*wipe.EntityResult, error) {
	result, err := m.wiper.SecureWipeEntity(m.store.TypeDir(typ), id)
	if err != nil {
		return result, err
	}
	m.store.InvalidateEntity(typ, id)

	m.appendAudit(transitionRecord{
		Timestamp: m.now().UTC(),
		Event:     "transition",
		Type:      typ,
		ID:        id,
		OldState:  StateMarkedForDeletion,
		NewState:  StateDeleted,
	})
	return result, nil
}

// AuditLogPath returns the lifecycle audit trail location.
func (m *Manager) AuditLogPath() string {
	return m.auditLog
}

// appendAudit writes one record to the append-only lifecycle log. Audit
// write failures are logged loudly but never fail the governed operation.
func (m *Manager) appendAudit(rec transitionRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		m.logger.Error().Err(err).Msg("marshal audit record")
		return
	}
	line = append(line, '\n')
	if _, err := fsio.AppendFile(m.auditLog, line, 0o644); err != nil {
		m.logger.Error().Err(err).Msg("append audit record")
	}
}

// sweepableTypes returns every entity type the sweep may destroy. The audit
// trail and index bookkeeping are never swept.
func sweepableTypes() []store.EntityType {
	var types []store.EntityType
	for _, typ := range store.AllTypes() {
		if typ == store.TypeAudit || typ == store.TypeIndexes {
			continue
		}
		types = append(types, typ)
	}
	return types
}
