// Package diskmon watches the storage volume and the on-disk entity tree:
// free-space alert levels, per-type usage breakdown, and orphaned-log
// detection. It never mutates the tree.
package diskmon

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coldvault/coldvault/internal/fsio"
	"github.com/coldvault/coldvault/internal/metrics"
	"github.com/coldvault/coldvault/internal/store"
	"github.com/coldvault/coldvault/pkg/bytesize"
)

// AlertLevel classifies how much free space remains on the volume.
type AlertLevel string

const (
	LevelOK        AlertLevel = "OK"
	LevelWarning   AlertLevel = "WARNING"   // <=20% free
	LevelCritical  AlertLevel = "CRITICAL"  // <=15% free
	LevelEmergency AlertLevel = "EMERGENCY" // <=5% free
)

// severity maps alert levels onto the exported gauge.
func (l AlertLevel) severity() float64 {
	switch l {
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	case LevelEmergency:
		return 3
	default:
		return 0
	}
}

const (
	warningFreePct   = 20.0
	criticalFreePct  = 15.0
	emergencyFreePct = 5.0
)

// DefaultPollInterval is how often the background loop re-checks the volume.
const DefaultPollInterval = time.Minute

// DefaultMaxAlerts bounds the in-memory alert history.
const DefaultMaxAlerts = 100

// stopTimeout bounds how long Stop waits for the loop to join.
const stopTimeout = 10 * time.Second

// DiskStatus is a point-in-time view of the storage volume.
type DiskStatus struct {
	Path        string     `json:"path"`
	TotalBytes  int64      `json:"total_bytes"`
	UsedBytes   int64      `json:"used_bytes"`
	FreeBytes   int64      `json:"free_bytes"`
	FreePercent float64    `json:"free_percent"`
	Level       AlertLevel `json:"level"`
	CheckedAt   time.Time  `json:"checked_at"`
}

// Alert records one level transition.
type Alert struct {
	Timestamp   time.Time  `json:"timestamp"`
	From        AlertLevel `json:"from"`
	To          AlertLevel `json:"to"`
	FreePercent float64    `json:"free_percent"`
}

// Orphan is a record log with no corresponding metadata file. It signals
// that the write path's log+metadata invariant was violated; detection is
// diagnostic only, repair is left to the operator.
type Orphan struct {
	Type store.EntityType `json:"type"`
	ID   string           `json:"id"`
	Path string           `json:"path"`
}

// Monitor polls the volume holding the store and keeps a bounded history of
// alert-level transitions. Transitions are edge-triggered: a level change is
// logged once, not once per poll.
type Monitor struct {
	store    *store.Store
	interval time.Duration
	logger   zerolog.Logger
	metrics  *metrics.EngineMetrics // nil disables instrumentation

	// statFn is overridable so tests can simulate a filling disk.
	statFn func(path string) (total, used, free int64, err error)

	mu        sync.Mutex
	level     AlertLevel
	alerts    []Alert
	maxAlerts int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor over the store's volume. interval <= 0 uses the
// default poll interval.
func New(s *store.Store, interval time.Duration, logger zerolog.Logger, m *metrics.EngineMetrics) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		store:     s,
		interval:  interval,
		logger:    logger.With().Str("component", "diskmon").Logger(),
		metrics:   m,
		statFn:    volumeStats,
		level:     LevelOK,
		maxAlerts: DefaultMaxAlerts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetMaxAlerts resizes the retained alert history. Call before Start.
func (mon *Monitor) SetMaxAlerts(n int) {
	if n <= 0 {
		return
	}
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.maxAlerts = n
}

// classify maps a free-space percentage onto an alert level.
func classify(freePct float64) AlertLevel {
	switch {
	case freePct <= emergencyFreePct:
		return LevelEmergency
	case freePct <= criticalFreePct:
		return LevelCritical
	case freePct <= warningFreePct:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Status stats the volume and classifies the free-space level. It does not
// touch the alert history; Check does.
func (mon *Monitor) Status() (*DiskStatus, error) {
	path := mon.store.Root()
	total, used, free, err := mon.statFn(path)
	if err != nil {
		return nil, err
	}

	pct := 0.0
	if total > 0 {
		pct = float64(free) / float64(total) * 100
	}

	status := &DiskStatus{
		Path:        path,
		TotalBytes:  total,
		UsedBytes:   used,
		FreeBytes:   free,
		FreePercent: pct,
		Level:       classify(pct),
		CheckedAt:   time.Now().UTC(),
	}

	if mon.metrics != nil {
		mon.metrics.DiskFreeBytes.Set(float64(free))
		mon.metrics.DiskUsedBytes.Set(float64(used))
		mon.metrics.DiskAlertLevel.Set(status.Level.severity())
	}
	return status, nil
}

// Check runs one poll: stat the volume and, if the alert level changed since
// the previous check, record and log the transition.
func (mon *Monitor) Check() (*DiskStatus, error) {
	status, err := mon.Status()
	if err != nil {
		return nil, err
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()

	if status.Level == mon.level {
		return status, nil
	}

	alert := Alert{
		Timestamp:   status.CheckedAt,
		From:        mon.level,
		To:          status.Level,
		FreePercent: status.FreePercent,
	}
	mon.alerts = append(mon.alerts, alert)
	if len(mon.alerts) > mon.maxAlerts {
		mon.alerts = mon.alerts[len(mon.alerts)-mon.maxAlerts:]
	}
	mon.level = status.Level

	evt := mon.logger.Info()
	if status.Level != LevelOK {
		evt = mon.logger.Warn()
	}
	evt.Str("from", string(alert.From)).
		Str("to", string(alert.To)).
		Float64("free_percent", alert.FreePercent).
		Str("free", bytesize.Format(status.FreeBytes)).
		Msg("disk alert level changed")

	return status, nil
}

// Level returns the alert level as of the last check.
func (mon *Monitor) Level() AlertLevel {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.level
}

// Alerts returns a copy of the retained alert history, oldest first.
func (mon *Monitor) Alerts() []Alert {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	out := make([]Alert, len(mon.alerts))
	copy(out, mon.alerts)
	return out
}

// Breakdown reports per-type disk accounting for every entity type.
func (mon *Monitor) Breakdown() ([]store.TypeUsage, error) {
	types := store.AllTypes()
	out := make([]store.TypeUsage, 0, len(types))
	for _, typ := range types {
		usage, err := mon.store.DiskUsage(typ)
		if err != nil {
			return nil, fmt.Errorf("usage %s: %w", typ, err)
		}
		out = append(out, *usage)
	}
	return out, nil
}

// CheckIndexHealth scans every entity type for record logs whose entity has
// no metadata file. Detection only; nothing is repaired or removed.
func (mon *Monitor) CheckIndexHealth() ([]Orphan, error) {
	var orphans []Orphan
	for _, typ := range store.AllTypes() {
		dir := mon.store.TypeDir(typ)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), store.ExtLog) {
				continue
			}
			id := strings.TrimSuffix(e.Name(), store.ExtLog)
			if fsio.FileExists(mon.store.MetaPath(typ, id)) {
				continue
			}
			orphans = append(orphans, Orphan{
				Type: typ,
				ID:   id,
				Path: mon.store.LogPath(typ, id),
			})
		}
	}

	if mon.metrics != nil {
		mon.metrics.OrphanedLogs.Set(float64(len(orphans)))
	}
	if len(orphans) > 0 {
		mon.logger.Warn().Int("count", len(orphans)).Msg("orphaned record logs detected")
	}
	return orphans, nil
}

// Start launches the background poll loop.
func (mon *Monitor) Start() {
	mon.wg.Add(1)
	go mon.run()
	mon.logger.Info().Dur("interval", mon.interval).Msg("disk monitor started")
}

// Stop signals the loop to exit and joins it with a bounded timeout.
func (mon *Monitor) Stop() error {
	mon.cancel()

	done := make(chan struct{})
	go func() {
		mon.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		mon.logger.Info().Msg("disk monitor stopped")
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("disk monitor did not stop within %s", stopTimeout)
	}
}

func (mon *Monitor) run() {
	defer mon.wg.Done()

	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	for {
		select {
		case <-mon.ctx.Done():
			return
		case <-ticker.C:
			if _, err := mon.Check(); err != nil {
				mon.logger.Error().Err(err).Msg("disk check failed")
			}
		}
	}
}
