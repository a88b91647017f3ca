package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coldvault/coldvault/internal/fsio"
	"github.com/coldvault/coldvault/internal/metrics"
)

// maxRecordLine bounds a single serialized record. Records are attribute
// deltas, not payload blobs; media bytes go through the streamer instead.
const maxRecordLine = 4 * 1024 * 1024

// Per-entity file extensions. The wiper destroys exactly this set.
const (
	ExtLog  = ".log"
	ExtIdx  = ".idx"
	ExtMeta = ".meta"
	ExtLock = ".lock"
)

// Store is the on-disk entity storage engine. One instance owns a storage
// root; construct it explicitly and tie its lifetime to application startup,
// never to package import.
//
// Directory layout:
//
//	{root}/
//	  users/ sessions/ devices/ ... indexes/
//	    {id}.log   — append-only NDJSON record log (source of truth)
//	    {id}.idx   — binary offset index (derived, rebuildable)
//	    {id}.meta  — lifecycle metadata
//	    {id}.lock  — advisory lock marker
type Store struct {
	root    string
	cache   *readCache
	logger  zerolog.Logger
	metrics *metrics.EngineMetrics // nil disables instrumentation
}

// New creates a store rooted at root, creating the per-type subdirectories.
func New(root string, logger zerolog.Logger, m *metrics.EngineMetrics) (*Store, error) {
	for _, typ := range AllTypes() {
		if err := os.MkdirAll(filepath.Join(root, string(typ)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", typ, err)
		}
	}
	return &Store{
		root:    root,
		cache:   newReadCache(),
		logger:  logger.With().Str("component", "store").Logger(),
		metrics: m,
	}, nil
}

// Root returns the storage root path.
func (s *Store) Root() string {
	return s.root
}

// TypeDir returns the subtree directory for an entity type.
func (s *Store) TypeDir(typ EntityType) string {
	return filepath.Join(s.root, string(typ))
}

func (s *Store) entityPath(typ EntityType, id, ext string) string {
	return filepath.Join(s.root, string(typ), id+ext)
}

// LogPath returns the record log path for an entity.
func (s *Store) LogPath(typ EntityType, id string) string {
	return s.entityPath(typ, id, ExtLog)
}

// MetaPath returns the metadata file path for an entity.
func (s *Store) MetaPath(typ EntityType, id string) string {
	return s.entityPath(typ, id, ExtMeta)
}

// EntityFiles returns the full fixed set of per-entity file paths, in wipe
// order (log, index, metadata, lock).
func (s *Store) EntityFiles(typ EntityType, id string) []string {
	return []string{
		s.entityPath(typ, id, ExtLog),
		s.entityPath(typ, id, ExtIdx),
		s.entityPath(typ, id, ExtMeta),
		s.entityPath(typ, id, ExtLock),
	}
}

func (s *Store) validate(typ EntityType, id string) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	return validateID(id)
}

// lockEntity acquires the advisory per-entity write lock. Every mutating
// call goes through here; the returned lock is released on all exit paths.
func (s *Store) lockEntity(typ EntityType, id string) (*fsio.Lock, error) {
	return fsio.AcquireLock(s.entityPath(typ, id, ExtLock))
}

// Create appends a CREATE record for a new entity, writes the index entry,
// and initializes metadata in state CREATED. Fails with ErrAlreadyExists if
// the id is already present for that type.
func (s *Store) Create(typ EntityType, id string, attrs Attributes) (*Entity, error) {
	if err := s.validate(typ, id); err != nil {
		return nil, err
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}

	lock, err := s.lockEntity(typ, id)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	logPath := s.LogPath(typ, id)
	if fsio.FileExists(logPath) {
		return nil, fmt.Errorf("%s/%s: %w", typ, id, ErrAlreadyExists)
	}

	rec, err := s.appendLocked(typ, id, OpCreate, attrs)
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		ID:             id,
		Type:           typ,
		LifecycleState: StateCreated,
		CreatedAt:      rec.Timestamp,
		Attributes:     Attributes{},
	}
	if err := s.WriteMetadata(typ, id, &meta); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("type", string(typ)).Str("id", id).Msg("entity created")

	return &Entity{
		Type:    typ,
		ID:      id,
		Latest:  FoldRecords([]Record{*rec}),
		Records: []Record{*rec},
	}, nil
}

// AppendRecord appends an UPDATE record to an existing entity's log and
// extends the index. Fails with ErrNotFound if the entity does not exist.
func (s *Store) AppendRecord(typ EntityType, id string, attrs Attributes) (*Record, error) {
	if err := s.validate(typ, id); err != nil {
		return nil, err
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}

	lock, err := s.lockEntity(typ, id)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	if !fsio.FileExists(s.LogPath(typ, id)) {
		return nil, fmt.Errorf("%s/%s: %w", typ, id, ErrNotFound)
	}

	return s.appendLocked(typ, id, OpUpdate, attrs)
}

// appendLocked serializes one record, appends it to the log with fsync,
// extends the index, and invalidates the entity's cache entry. Caller must
// hold the entity lock.
func (s *Store) appendLocked(typ EntityType, id, op string, attrs Attributes) (*Record, error) {
	rec := Record{
		Op:         op,
		Attributes: attrs,
		Timestamp:  time.Now().UTC(),
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	offset, err := fsio.AppendFile(s.LogPath(typ, id), line, 0o644)
	if err != nil {
		return nil, fmt.Errorf("append record: %w", err)
	}
	if err := appendIndexEntry(s.entityPath(typ, id, ExtIdx), offset); err != nil {
		return nil, err
	}

	s.cache.invalidateEntity(typ, id)

	if s.metrics != nil {
		s.metrics.RecordsAppended.WithLabelValues(string(typ)).Inc()
		s.metrics.BytesWritten.WithLabelValues(string(typ)).Add(float64(len(line)))
	}

	return &rec, nil
}

// Read returns the folded latest view of an entity plus its full ordered
// record list. A cache hit never touches the disk.
func (s *Store) Read(typ EntityType, id string) (Attributes, []Record, error) {
	if err := s.validate(typ, id); err != nil {
		return nil, nil, err
	}

	if s.metrics != nil {
		s.metrics.Reads.WithLabelValues(string(typ)).Inc()
	}

	if cached, ok := s.cache.getEntity(typ, id); ok {
		if s.metrics != nil {
			s.metrics.CacheHits.Inc()
		}
		return cached.latest, cached.records, nil
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}

	records, err := s.loadRecords(typ, id)
	if err != nil {
		return nil, nil, err
	}

	latest := FoldRecords(records)
	s.cache.putEntity(typ, id, &cachedEntity{latest: latest, records: records})
	return latest, records, nil
}

// loadRecords reads and decodes every record in an entity's log. A torn
// trailing line — the footprint of a crash mid-append — is dropped so the
// intact prefix stays readable; corruption anywhere else is fatal.
func (s *Store) loadRecords(typ EntityType, id string) ([]Record, error) {
	f, err := os.Open(s.LogPath(typ, id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s/%s: %w", typ, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLine)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			if scanner.Scan() {
				return nil, fmt.Errorf("decode record %d of %s/%s: %w", len(records), typ, id, err)
			}
			if serr := scanner.Err(); serr != nil {
				return nil, fmt.Errorf("scan log: %w", serr)
			}
			s.logger.Warn().
				Str("type", string(typ)).
				Str("id", id).
				Int("record", len(records)).
				Msg("dropping torn trailing log line")
			return records, nil
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return records, nil
}

// List returns metadata for up to limit entities of a type (0 = no limit),
// in directory order.
func (s *Store) List(typ EntityType, limit int) ([]Metadata, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}

	entries, err := os.ReadDir(s.TypeDir(typ))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s dir: %w", typ, err)
	}

	var metas []Metadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ExtMeta) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ExtMeta)
		meta, err := s.ReadMetadata(typ, id)
		if err != nil {
			continue // skip entities with unreadable metadata
		}
		metas = append(metas, *meta)
		if limit > 0 && len(metas) >= limit {
			break
		}
	}
	return metas, nil
}

// Count returns the number of entities of a type, served from a cached
// tally that write paths invalidate.
func (s *Store) Count(typ EntityType) (int, error) {
	if !typ.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}

	if n, ok := s.cache.getCount(typ); ok {
		return n, nil
	}

	entries, err := os.ReadDir(s.TypeDir(typ))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s dir: %w", typ, err)
	}

	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ExtLog) {
			n++
		}
	}
	s.cache.putCount(typ, n)
	return n, nil
}

// Exists reports whether an entity's log is present.
func (s *Store) Exists(typ EntityType, id string) bool {
	if s.validate(typ, id) != nil {
		return false
	}
	return fsio.FileExists(s.LogPath(typ, id))
}

// InvalidateCache drops all cached reads and tallies, forcing the next read
// to re-derive state from disk. Use after an out-of-process mutation or to
// simulate a restart.
func (s *Store) InvalidateCache() {
	s.cache.invalidateAll()
}

// InvalidateEntity drops one entity's cached view, for callers that mutate
// its files outside the store's write path (the wiper, most notably).
func (s *Store) InvalidateEntity(typ EntityType, id string) {
	s.cache.invalidateEntity(typ, id)
}

// ReadMetadata returns an entity's lifecycle metadata.
func (s *Store) ReadMetadata(typ EntityType, id string) (*Metadata, error) {
	if err := s.validate(typ, id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.MetaPath(typ, id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s/%s: %w", typ, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata %s/%s: %w", typ, id, err)
	}
	return &meta, nil
}

// WriteMetadata atomically persists an entity's lifecycle metadata.
func (s *Store) WriteMetadata(typ EntityType, id string, meta *Metadata) error {
	if err := s.validate(typ, id); err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := fsio.AtomicWriteFile(s.MetaPath(typ, id), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// UpdateMetadata applies mutate to an entity's metadata and rewrites it
// atomically, all under the per-entity lock, so concurrent read-modify-write
// cycles cannot lose each other's changes. If mutate returns an error the
// file is left untouched and the error is returned unwrapped, so callers
// keep their typed errors.
func (s *Store) UpdateMetadata(typ EntityType, id string, mutate func(*Metadata) error) (*Metadata, error) {
	if err := s.validate(typ, id); err != nil {
		return nil, err
	}

	lock, err := s.lockEntity(typ, id)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	meta, err := s.ReadMetadata(typ, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(meta); err != nil {
		return nil, err
	}
	if err := s.WriteMetadata(typ, id, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RebuildIndex regenerates an entity's offset index by rescanning its log.
// Administrative operation; the log is always authoritative.
func (s *Store) RebuildIndex(typ EntityType, id string) error {
	if err := s.validate(typ, id); err != nil {
		return err
	}

	lock, err := s.lockEntity(typ, id)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if err := rebuildIndex(s.LogPath(typ, id), s.entityPath(typ, id, ExtIdx)); err != nil {
		return err
	}
	s.logger.Info().Str("type", string(typ)).Str("id", id).Msg("index rebuilt")
	return nil
}

// RecordOffsets returns the byte offsets of every record in an entity's
// log, as recorded in the index.
func (s *Store) RecordOffsets(typ EntityType, id string) ([]int64, error) {
	if err := s.validate(typ, id); err != nil {
		return nil, err
	}
	return readIndex(s.entityPath(typ, id, ExtIdx))
}

// TypeUsage holds disk accounting for one entity subtree.
type TypeUsage struct {
	Type       EntityType `json:"type"`
	Files      int        `json:"files"`
	Entities   int        `json:"entities"`
	TotalBytes int64      `json:"total_bytes"`
}

// DiskUsage walks one entity subtree and reports file count, entity count
// (metadata files), and total bytes.
func (s *Store) DiskUsage(typ EntityType) (*TypeUsage, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}

	usage := &TypeUsage{Type: typ}
	err := filepath.Walk(s.TypeDir(typ), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		usage.Files++
		usage.TotalBytes += info.Size()
		if strings.HasSuffix(path, ExtMeta) {
			usage.Entities++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", typ, err)
	}
	return usage, nil
}
