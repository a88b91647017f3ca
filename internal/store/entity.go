// Package store implements the on-disk entity storage engine: append-only
// per-entity record logs, a binary offset index, lifecycle metadata, and an
// in-memory read cache. The log is the source of truth; the index is a
// derived accelerator that can be rebuilt from the log at any time.
package store

import (
	"fmt"
	"time"
)

// EntityType identifies one of the fixed storage subtrees.
type EntityType string

// The closed set of entity types. Each owns a subdirectory under the
// storage root.
const (
	TypeUsers    EntityType = "users"
	TypeSessions EntityType = "sessions"
	TypeDevices  EntityType = "devices"
	TypeTargets  EntityType = "targets"
	TypeReports  EntityType = "reports"
	TypeVideos   EntityType = "videos"
	TypeTraining EntityType = "training"
	TypeAudit    EntityType = "audit"
	TypeBackups  EntityType = "backups"
	TypeIndexes  EntityType = "indexes"
)

// AllTypes returns every entity type in declaration order.
func AllTypes() []EntityType {
	return []EntityType{
		TypeUsers, TypeSessions, TypeDevices, TypeTargets, TypeReports,
		TypeVideos, TypeTraining, TypeAudit, TypeBackups, TypeIndexes,
	}
}

// Valid reports whether t is a member of the closed type set.
func (t EntityType) Valid() bool {
	switch t {
	case TypeUsers, TypeSessions, TypeDevices, TypeTargets, TypeReports,
		TypeVideos, TypeTraining, TypeAudit, TypeBackups, TypeIndexes:
		return true
	}
	return false
}

// Record operation tags.
const (
	OpCreate = "CREATE"
	OpUpdate = "UPDATE"
)

// Attributes is an entity's attribute mapping. Values are restricted to the
// kinds JSON round-trips naturally: string, float64, bool, and nested
// map[string]any of the same.
type Attributes map[string]any

// Validate checks that every value in the mapping is one of the supported
// kinds, recursing into nested maps.
func (a Attributes) Validate() error {
	for key, val := range a {
		if err := validateValue(key, val); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(key string, val any) error {
	switch v := val.(type) {
	case string, bool, float64, int, int64, nil:
		return nil
	case map[string]any:
		return Attributes(v).Validate()
	case Attributes:
		return v.Validate()
	default:
		return fmt.Errorf("%w: key %q has %T", ErrInvalidValue, key, val)
	}
}

// Record is one immutable append to an entity's log.
type Record struct {
	Op         string     `json:"op"`
	Attributes Attributes `json:"attributes"`
	Timestamp  time.Time  `json:"timestamp"`
}

// FoldRecords materializes the latest view of an entity by folding records
// in append order; later keys overwrite earlier ones.
func FoldRecords(records []Record) Attributes {
	latest := make(Attributes)
	for _, rec := range records {
		for k, v := range rec.Attributes {
			latest[k] = v
		}
	}
	return latest
}

// Entity is the materialized view of one stored entity.
type Entity struct {
	Type    EntityType `json:"type"`
	ID      string     `json:"id"`
	Latest  Attributes `json:"latest"`
	Records []Record   `json:"records"`
}

// Metadata holds the retention-governance state of an entity, kept in its
// .meta file. It is initialized by the store on create and mutated only by
// the lifecycle manager thereafter.
type Metadata struct {
	ID                string     `json:"id"`
	Type              EntityType `json:"type"`
	LifecycleState    string     `json:"lifecycle_state"`
	CreatedAt         time.Time  `json:"created_at"`
	BackupVerified    bool       `json:"backup_verified"`
	IntegrityVerified bool       `json:"integrity_verified"`
	LegalHold         bool       `json:"legal_hold"`
	Attributes        Attributes `json:"attributes,omitempty"`
}

// StateCreated is the initial lifecycle state assigned on entity creation.
// The full transition table lives in the lifecycle package.
const StateCreated = "CREATED"

// validateID rejects ids that could escape the entity subtree or collide
// with the fixed file extensions. Same shape as the streamer's identifier
// validation: short, alphanumeric plus hyphen/underscore.
func validateID(id string) error {
	if id == "" || len(id) > 128 {
		return fmt.Errorf("%w: empty or too long", ErrInvalidID)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}
