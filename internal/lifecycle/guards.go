package lifecycle

import (
	"time"

	"github.com/coldvault/coldvault/internal/store"
)

// Guard names, as reported in GuardReport.Failed and audit records.
const (
	GuardStateEligible     = "state_eligible"
	GuardAgeMet            = "age_met"
	GuardBackupVerified    = "backup_verified"
	GuardIntegrityVerified = "integrity_verified"
	GuardNoLegalHold       = "no_legal_hold"
)

// MinRetentionAge is how long an entity must exist before it may be marked
// for deletion.
const MinRetentionAge = 30 * 24 * time.Hour

// GuardReport is the result of evaluating the five independent deletion
// guards. All must pass for an unforced transition to MARKED_FOR_DELETION.
type GuardReport struct {
	StateEligible     bool `json:"state_eligible"`
	AgeMet            bool `json:"age_met"`
	BackupVerified    bool `json:"backup_verified"`
	IntegrityVerified bool `json:"integrity_verified"`
	NoLegalHold       bool `json:"no_legal_hold"`
}

// AllPass reports whether every guard passed.
func (r GuardReport) AllPass() bool {
	return r.StateEligible && r.AgeMet && r.BackupVerified &&
		r.IntegrityVerified && r.NoLegalHold
}

// Failed returns the names of the guards that refused, in declaration
// order.
func (r GuardReport) Failed() []string {
	var failed []string
	if !r.StateEligible {
		failed = append(failed, GuardStateEligible)
	}
	if !r.AgeMet {
		failed = append(failed, GuardAgeMet)
	}
	if !r.BackupVerified {
		failed = append(failed, GuardBackupVerified)
	}
	if !r.IntegrityVerified {
		failed = append(failed, GuardIntegrityVerified)
	}
	if !r.NoLegalHold {
		failed = append(failed, GuardNoLegalHold)
	}
	return failed
}

// evaluateGuards checks the five deletion guards against an entity's
// metadata at the given instant.
func evaluateGuards(meta *store.Metadata, now time.Time) GuardReport {
	state := State(meta.LifecycleState)
	return GuardReport{
		StateEligible:     state == StateCompleted || state == StateBackedUp,
		AgeMet:            now.Sub(meta.CreatedAt) >= MinRetentionAge,
		BackupVerified:    meta.BackupVerified,
		IntegrityVerified: meta.IntegrityVerified,
		NoLegalHold:       !meta.LegalHold,
	}
}
