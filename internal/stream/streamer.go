// Package stream is the hardened media path: sanitized atomic writes under
// a dedicated videos subtree, signed time-limited access tokens, and
// range-clamped chunked delivery with a bounded concurrent-stream count.
package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coldvault/coldvault/internal/fsio"
	"github.com/coldvault/coldvault/internal/metrics"
)

const (
	// DefaultTokenTTL is the access-token lifetime.
	DefaultTokenTTL = 15 * time.Minute

	// DefaultChunkSize bounds per-stream memory regardless of file size.
	DefaultChunkSize = 64 << 10

	// DefaultMaxPayload caps a single stored media file.
	DefaultMaxPayload = 512 << 20

	// DefaultMaxStreams caps concurrent range-serving streams.
	DefaultMaxStreams = 8

	// maxSegmentLen bounds user and session identifiers.
	maxSegmentLen = 64
)

// Options tune a Streamer. Zero values take the defaults above.
type Options struct {
	TokenTTL   time.Duration
	ChunkSize  int
	MaxPayload int64
	MaxStreams int
}

// Streamer serves media files under {root}/{user}/{session}/{filename}.
// Every read and write re-validates that the resolved path is still inside
// the root, independent of upstream sanitization.
type Streamer struct {
	root       string
	signingKey []byte
	tokenTTL   time.Duration
	chunkSize  int
	maxPayload int64
	logger     zerolog.Logger
	metrics    *metrics.EngineMetrics // nil disables instrumentation

	// slots is a counting semaphore; acquisition never blocks.
	slots chan struct{}

	// now is overridable so expiry tests don't need wall-clock sleeps.
	now func() time.Time
}

// New creates a streamer rooted at dir. The signing secret must be at least
// 32 bytes; the token key is derived from it, never used raw.
func New(dir string, secret []byte, opts Options, logger zerolog.Logger, m *metrics.EngineMetrics) (*Streamer, error) {
	key, err := deriveSigningKey(secret)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}

	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = DefaultMaxStreams
	}

	return &Streamer{
		root:       root,
		signingKey: key,
		tokenTTL:   opts.TokenTTL,
		chunkSize:  opts.ChunkSize,
		maxPayload: opts.MaxPayload,
		logger:     logger.With().Str("component", "stream").Logger(),
		metrics:    m,
		slots:      make(chan struct{}, opts.MaxStreams),
		now:        time.Now,
	}, nil
}

// validateSegment accepts short alphanumeric-plus-hyphen/underscore path
// segments. Anything else is treated as a traversal attempt.
func validateSegment(name, what string) error {
	if name == "" || len(name) > maxSegmentLen {
		return fmt.Errorf("%w: invalid %s %q", ErrPathViolation, what, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: invalid %s %q", ErrPathViolation, what, name)
		}
	}
	return nil
}

// sanitizeFilename reduces a filename to a safe character set. Path
// separators and control characters never survive.
func sanitizeFilename(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "._") == "" {
		return "", fmt.Errorf("%w: unusable filename %q", ErrPathViolation, name)
	}
	return out, nil
}

// resolve builds the final path and verifies it is still contained within
// the media root even if sanitization was bypassed.
func (st *Streamer) resolve(user, session, filename string) (string, error) {
	path := filepath.Join(st.root, user, session, filename)
	rel, err := filepath.Rel(st.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes media root", ErrPathViolation, path)
	}
	return path, nil
}

// checkContained re-resolves symlinks in path's directory and verifies the
// real location is still under the media root.
func (st *Streamer) checkContained(path string) error {
	realDir, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", filepath.Dir(path), err)
	}
	realRoot, err := filepath.EvalSymlinks(st.root)
	if err != nil {
		return fmt.Errorf("resolve media root: %w", err)
	}
	rel, err := filepath.Rel(realRoot, realDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s resolves outside media root", ErrPathViolation, path)
	}
	return nil
}

// Store writes one media file atomically and returns its path.
func (st *Streamer) Store(user, session string, payload []byte, filename string) (string, error) {
	if err := validateSegment(user, "user id"); err != nil {
		return "", err
	}
	if err := validateSegment(session, "session id"); err != nil {
		return "", err
	}
	if int64(len(payload)) > st.maxPayload {
		return "", fmt.Errorf("%w: %d bytes exceeds limit %d", ErrTooLarge, len(payload), st.maxPayload)
	}
	safe, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	path, err := st.resolve(user, session, safe)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	if err := st.checkContained(path); err != nil {
		return "", err
	}
	if err := fsio.AtomicWriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("store media: %w", err)
	}

	st.logger.Debug().
		Str("user", user).
		Str("session", session).
		Str("file", safe).
		Int("bytes", len(payload)).
		Msg("media stored")
	return path, nil
}

// GenerateAccessToken issues a signed token for one existing file. A token
// for an absent file is never issued.
func (st *Streamer) GenerateAccessToken(user, session, filename string) (string, error) {
	if err := validateSegment(user, "user id"); err != nil {
		return "", err
	}
	if err := validateSegment(session, "session id"); err != nil {
		return "", err
	}
	safe, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	path, err := st.resolve(user, session, safe)
	if err != nil {
		return "", err
	}
	if !fsio.FileExists(path) {
		return "", fmt.Errorf("%w: %s/%s/%s", ErrNotFound, user, session, safe)
	}

	token, err := st.signToken(user, session, safe, st.now())
	if err != nil {
		return "", err
	}
	if st.metrics != nil {
		st.metrics.TokensIssued.Inc()
	}
	return token, nil
}

// Stream verifies the token, clamps the byte range to the file's size, and
// copies the selected range to w in fixed-size chunks. The concurrent-stream
// slot is released on every exit path. A rangeEnd of -1 (or past EOF) means
// through end of file; rangeEnd is inclusive.
func (st *Streamer) Stream(ctx context.Context, token string, rangeStart, rangeEnd int64, w io.Writer) (int64, error) {
	claims, err := st.VerifyToken(token)
	if err != nil {
		return 0, err
	}

	select {
	case st.slots <- struct{}{}:
	default:
		if st.metrics != nil {
			st.metrics.StreamsRefused.Inc()
		}
		return 0, ErrTooManyStreams
	}
	defer func() {
		<-st.slots
		if st.metrics != nil {
			st.metrics.ActiveStreams.Dec()
		}
	}()
	if st.metrics != nil {
		st.metrics.ActiveStreams.Inc()
	}

	path, err := st.resolve(claims.User, claims.Session, claims.Filename)
	if err != nil {
		return 0, err
	}
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, claims.Filename)
		}
		return 0, fmt.Errorf("stat media: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return 0, fmt.Errorf("%w: %s is a symlink", ErrPathViolation, path)
	}
	if err := st.checkContained(path); err != nil {
		return 0, err
	}

	size := info.Size()
	start, end := clampRange(rangeStart, rangeEnd, size)
	if start >= end {
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open media: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek media: %w", err)
	}

	var sent int64
	buf := make([]byte, st.chunkSize)
	remaining := end - start
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}

		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := f.Read(buf[:n])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return sent, fmt.Errorf("write chunk: %w", werr)
			}
			sent += int64(read)
			remaining -= int64(read)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return sent, fmt.Errorf("read media: %w", err)
		}
	}

	if st.metrics != nil {
		st.metrics.StreamsServed.Inc()
	}
	st.logger.Debug().
		Str("user", claims.User).
		Str("file", claims.Filename).
		Int64("start", start).
		Int64("bytes", sent).
		Msg("stream served")
	return sent, nil
}

// clampRange bounds [start, endInclusive] to [0, size) and returns a
// half-open [start, end). A start at or past EOF yields an empty range.
func clampRange(start, endInclusive, size int64) (int64, int64) {
	if start < 0 {
		start = 0
	}
	if start > size {
		start = size
	}
	end := size
	if endInclusive >= 0 && endInclusive+1 < size {
		end = endInclusive + 1
	}
	if end < start {
		end = start
	}
	return start, end
}
