// Package wipe implements forensic-resistant file destruction: multi-pass
// overwrite with hash proofs at each stage, atomic unlink, and an
// append-only wipe-proof audit log.
package wipe

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coldvault/coldvault/internal/fsio"
	"github.com/coldvault/coldvault/internal/metrics"
)

// Status of one secure-wipe attempt.
const (
	StatusWiped   = "WIPED"
	StatusSkipped = "SKIPPED" // file was already absent; not an error
	StatusFailed  = "FAILED"
)

// overwritePass is the unit in which overwrite passes write to disk, so
// memory stays bounded for large files.
const overwritePass = 1 << 20

// Proof is the immutable audit record of one destroyed file. Verified is
// cryptographic evidence that the content was genuinely overwritten twice,
// not just renamed: all three hashes must be pairwise distinct.
type Proof struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Path            string    `json:"path"`
	Size            int64     `json:"size"`
	Status          string    `json:"status"`
	HashBefore      string    `json:"hash_before,omitempty"`
	HashAfterRandom string    `json:"hash_after_random,omitempty"`
	HashAfterZero   string    `json:"hash_after_zero,omitempty"`
	Verified        bool      `json:"verified"`
	Error           string    `json:"error,omitempty"`
}

// EntityResult aggregates the wipe of an entity's fixed file set.
type EntityResult struct {
	EntityID    string  `json:"entity_id"`
	Proofs      []Proof `json:"proofs"`
	AllVerified bool    `json:"all_verified"`
}

// Wiper destroys files and records proofs in an append-only log. It is the
// sole writer of audit/wipe_log.log.
type Wiper struct {
	proofLog string
	logger   zerolog.Logger
	metrics  *metrics.EngineMetrics // nil disables instrumentation
}

// New creates a wiper whose proof log lives under the given audit
// directory.
func New(auditDir string, logger zerolog.Logger, m *metrics.EngineMetrics) (*Wiper, error) {
	if err := os.MkdirAll(auditDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Wiper{
		proofLog: filepath.Join(auditDir, "wipe_log.log"),
		logger:   logger.With().Str("component", "wiper").Logger(),
		metrics:  m,
	}, nil
}

// SecureWipe destroys a single file: hash, random-pass overwrite, hash,
// zero-pass overwrite, hash, unlink, parent-directory fsync. An absent file
// yields a SKIPPED proof, not an error. Every attempt appends its proof to
// the wipe log regardless of outcome — audit completeness matters more than
// suppressing noise.
func (w *Wiper) SecureWipe(path string) (*Proof, error) {
	proof := &Proof{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Path:      path,
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		proof.Status = StatusSkipped
		w.appendProof(proof)
		return proof, nil
	}
	if err != nil {
		return w.fail(proof, fmt.Errorf("stat: %w", err))
	}
	proof.Size = info.Size()

	// A zero-length file (the entity lock marker, for one) has no content
	// to overwrite, so the pass hashes could never differ. Unlink it and
	// count the wipe as vacuously verified.
	if info.Size() == 0 {
		if err := os.Remove(path); err != nil {
			return w.fail(proof, fmt.Errorf("unlink: %w", err))
		}
		if err := fsio.SyncDir(filepath.Dir(path)); err != nil {
			return w.fail(proof, err)
		}
		proof.Status = StatusWiped
		proof.Verified = true
		w.appendProof(proof)
		if w.metrics != nil {
			w.metrics.WipesVerified.Inc()
		}
		w.logger.Info().Str("path", path).Int64("size", 0).Bool("verified", true).Msg("file wiped")
		return proof, nil
	}

	hashBefore, err := hashFile(path)
	if err != nil {
		return w.fail(proof, fmt.Errorf("hash original: %w", err))
	}
	proof.HashBefore = hashBefore

	if err := overwriteFile(path, info.Size(), randomSource{}); err != nil {
		return w.fail(proof, fmt.Errorf("random pass: %w", err))
	}
	hashRandom, err := hashFile(path)
	if err != nil {
		return w.fail(proof, fmt.Errorf("hash after random pass: %w", err))
	}
	proof.HashAfterRandom = hashRandom

	if err := overwriteFile(path, info.Size(), zeroSource{}); err != nil {
		return w.fail(proof, fmt.Errorf("zero pass: %w", err))
	}
	hashZero, err := hashFile(path)
	if err != nil {
		return w.fail(proof, fmt.Errorf("hash after zero pass: %w", err))
	}
	proof.HashAfterZero = hashZero

	if err := os.Remove(path); err != nil {
		return w.fail(proof, fmt.Errorf("unlink: %w", err))
	}
	if err := fsio.SyncDir(filepath.Dir(path)); err != nil {
		return w.fail(proof, err)
	}

	proof.Status = StatusWiped
	proof.Verified = hashRandom != hashBefore &&
		hashZero != hashBefore &&
		hashZero != hashRandom

	w.appendProof(proof)

	if w.metrics != nil {
		if proof.Verified {
			w.metrics.WipesVerified.Inc()
		} else {
			w.metrics.WipesFailed.Inc()
		}
		w.metrics.BytesWiped.Add(float64(proof.Size) * 2) // two passes
	}

	w.logger.Info().
		Str("path", path).
		Int64("size", proof.Size).
		Bool("verified", proof.Verified).
		Msg("file wiped")

	return proof, nil
}

// SecureWipeEntity wipes the fixed set of per-entity files (log, index,
// metadata, lock). AllVerified is true only if every wiped file
// individually verified; SKIPPED files don't count against it.
func (w *Wiper) SecureWipeEntity(entityDir, entityID string) (*EntityResult, error) {
	result := &EntityResult{EntityID: entityID, AllVerified: true}

	for _, ext := range []string{".log", ".idx", ".meta", ".lock"} {
		proof, err := w.SecureWipe(filepath.Join(entityDir, entityID+ext))
		if err != nil {
			result.AllVerified = false
			return result, err
		}
		result.Proofs = append(result.Proofs, *proof)
		if proof.Status == StatusWiped && !proof.Verified {
			result.AllVerified = false
		}
	}
	return result, nil
}

// VerifyWipe confirms the file is gone.
func (w *Wiper) VerifyWipe(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

// ProofLogPath returns the wipe-proof log location.
func (w *Wiper) ProofLogPath() string {
	return w.proofLog
}

// ReadProofs returns every proof recorded so far, in append order.
func (w *Wiper) ReadProofs() ([]Proof, error) {
	data, err := os.ReadFile(w.proofLog)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wipe log: %w", err)
	}

	var proofs []Proof
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var p Proof
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode wipe proof: %w", err)
		}
		proofs = append(proofs, p)
	}
	return proofs, nil
}

func (w *Wiper) fail(proof *Proof, err error) (*Proof, error) {
	proof.Status = StatusFailed
	proof.Error = err.Error()
	w.appendProof(proof)
	if w.metrics != nil {
		w.metrics.WipesFailed.Inc()
	}
	return proof, err
}

// appendProof writes one proof line to the append-only wipe log. Failures
// here are logged but never mask the wipe outcome.
func (w *Wiper) appendProof(proof *Proof) {
	line, err := json.Marshal(proof)
	if err != nil {
		w.logger.Error().Err(err).Msg("marshal wipe proof")
		return
	}
	line = append(line, '\n')
	if _, err := fsio.AppendFile(w.proofLog, line, 0o644); err != nil {
		w.logger.Error().Err(err).Msg("append wipe proof")
	}
}

// hashFile returns the hex SHA-256 of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type randomSource struct{}

func (randomSource) fill(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

type zeroSource struct{}

func (zeroSource) fill(buf []byte) error {
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

type passSource interface {
	fill([]byte) error
}

// overwriteFile rewrites the full file length in place from the given
// source and fsyncs before returning.
func overwriteFile(path string, size int64, src passSource) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, overwritePass)
	var written int64
	for written < size {
		n := int64(len(buf))
		if size-written < n {
			n = size - written
		}
		if err := src.fill(buf[:n]); err != nil {
			return err
		}
		if _, err := f.WriteAt(buf[:n], written); err != nil {
			return err
		}
		written += n
	}
	return f.Sync()
}
