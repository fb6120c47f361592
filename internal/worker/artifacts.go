// Package worker implements the Worker Supervisor and Roundabout monitor
// (§4.G): background AgentRunner invocations with a private artifact
// directory per worker, read through an owner-checked, path-escape-proof
// store, and watched by a bounded heuristic polling loop. The artifact
// store's ownership-check and escape-proofing idiom is grounded on
// rubicon-ClaraVerse/backend/internal/securefile's Service (ownership
// compared on every read, id-derived paths never taking raw user input).
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAccessDenied is returned when a read's owner_id does not match the
// worker job's recorded owner.
var ErrAccessDenied = errors.New("worker: access denied")

// ErrInvalidPath is returned when a worker id would resolve outside the
// artifact root.
var ErrInvalidPath = errors.New("worker: invalid worker id")

// Metadata is the contents of a worker's metadata.json.
type Metadata struct {
	OwnerID     uuid.UUID              `json:"owner_id"`
	Status      string                 `json:"status"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	SummaryMeta map[string]interface{} `json:"summary_meta,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// indexEntry is one row of the base-level index.json.
type indexEntry struct {
	WorkerID  string    `json:"worker_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store owns the on-disk artifact layout under baseDir: one directory per
// worker id containing metadata.json, result.txt, thread.jsonl,
// tool_calls/<NNN>_<tool>.txt, and monitoring/check_<elapsed>s.json, plus a
// base-level index.json listing every worker.
type Store struct {
	baseDir string
	mu      sync.Mutex // serializes index.json read-modify-write
}

// NewStore ensures baseDir exists and returns a Store rooted on it.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact root: %w", err)
	}
	return &Store{baseDir: abs}, nil
}

// workerDir resolves a worker id to its directory, rejecting any id that
// would escape baseDir via ".." or an absolute path component.
func (s *Store) workerDir(workerID string) (string, error) {
	if workerID == "" || strings.Contains(workerID, "..") || filepath.IsAbs(workerID) {
		return "", ErrInvalidPath
	}
	dir := filepath.Join(s.baseDir, filepath.Clean(workerID))
	if !strings.HasPrefix(dir, s.baseDir+string(os.PathSeparator)) {
		return "", ErrInvalidPath
	}
	return dir, nil
}

// CreateWorker makes a fresh worker directory (and its tool_calls/monitoring
// subdirectories) and writes the initial metadata.json.
func (s *Store) CreateWorker(workerID string, ownerID uuid.UUID, config map[string]interface{}) error {
	dir, err := s.workerDir(workerID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, "tool_calls"), 0o700); err != nil {
		return fmt.Errorf("creating worker tool_calls dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "monitoring"), 0o700); err != nil {
		return fmt.Errorf("creating worker monitoring dir: %w", err)
	}

	now := time.Now().UTC()
	md := Metadata{OwnerID: ownerID, Status: "queued", Config: config, CreatedAt: now, UpdatedAt: now}
	if err := s.writeMetadataFile(dir, md); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "result.txt"), nil, 0o600); err != nil {
		return fmt.Errorf("creating result.txt: %w", err)
	}
	return s.upsertIndex(indexEntry{WorkerID: workerID, OwnerID: ownerID, Status: md.Status, CreatedAt: now, UpdatedAt: now})
}

// UpdateMetadata merges the given fields into metadata.json. Status and
// summary are the only fields system decisions read; summary is always
// best-effort and never authoritative (§4.G canonicality invariant).
func (s *Store) UpdateMetadata(workerID string, mutate func(*Metadata)) error {
	dir, err := s.workerDir(workerID)
	if err != nil {
		return err
	}
	md, err := s.readMetadataFile(dir)
	if err != nil {
		return err
	}
	mutate(md)
	md.UpdatedAt = time.Now().UTC()
	if err := s.writeMetadataFile(dir, *md); err != nil {
		return err
	}
	return s.upsertIndex(indexEntry{WorkerID: workerID, OwnerID: md.OwnerID, Status: md.Status, UpdatedAt: md.UpdatedAt})
}

func (s *Store) writeMetadataFile(dir string, md Metadata) error {
	raw, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), raw, 0o600); err != nil {
		return fmt.Errorf("writing metadata.json: %w", err)
	}
	return nil
}

func (s *Store) readMetadataFile(dir string) (*Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("reading metadata.json: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("parsing metadata.json: %w", err)
	}
	return &md, nil
}

// Metadata returns a worker's metadata.json after verifying ownerID matches
// the worker's recorded owner.
func (s *Store) ReadMetadata(workerID string, ownerID uuid.UUID) (*Metadata, error) {
	dir, err := s.workerDir(workerID)
	if err != nil {
		return nil, err
	}
	md, err := s.readMetadataFile(dir)
	if err != nil {
		return nil, err
	}
	if md.OwnerID != ownerID {
		return nil, ErrAccessDenied
	}
	return md, nil
}

// AppendThreadLine appends one JSON-encoded line to thread.jsonl.
func (s *Store) AppendThreadLine(workerID string, line interface{}) error {
	dir, err := s.workerDir(workerID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshaling thread line: %w", err)
	}
	return appendLine(filepath.Join(dir, "thread.jsonl"), raw)
}

// WriteToolCall writes one tool_calls/<NNN>_<tool>.txt file in execution order.
func (s *Store) WriteToolCall(workerID string, seq int, tool string, content string) error {
	dir, err := s.workerDir(workerID)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%03d_%s.txt", seq, sanitizeFileSegment(tool))
	if err := os.WriteFile(filepath.Join(dir, "tool_calls", name), []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing tool call artifact: %w", err)
	}
	return nil
}

// WriteMonitoringSnapshot writes one monitoring/check_<elapsed>s.json file.
func (s *Store) WriteMonitoringSnapshot(workerID string, elapsed time.Duration, data interface{}) error {
	dir, err := s.workerDir(workerID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling monitoring snapshot: %w", err)
	}
	name := fmt.Sprintf("check_%ds.json", int(elapsed.Seconds()))
	if err := os.WriteFile(filepath.Join(dir, "monitoring", name), raw, 0o600); err != nil {
		return fmt.Errorf("writing monitoring snapshot: %w", err)
	}
	return nil
}

// WriteResult overwrites result.txt, the canonical final output. Never
// truncated or deleted by any other path in this package.
func (s *Store) WriteResult(workerID string, text string) error {
	dir, err := s.workerDir(workerID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "result.txt"), []byte(text), 0o600); err != nil {
		return fmt.Errorf("writing result.txt: %w", err)
	}
	return nil
}

// ReadResult returns result.txt after verifying ownership.
func (s *Store) ReadResult(workerID string, ownerID uuid.UUID) (string, error) {
	if _, err := s.ReadMetadata(workerID, ownerID); err != nil {
		return "", err
	}
	dir, err := s.workerDir(workerID)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Join(dir, "result.txt"))
	if err != nil {
		return "", fmt.Errorf("reading result.txt: %w", err)
	}
	return string(raw), nil
}

// ListWorkers returns the base-level index, unfiltered. Callers enforce
// their own per-owner visibility rules on top of this.
func (s *Store) ListWorkers() ([]indexEntry, error) {
	raw, err := os.ReadFile(filepath.Join(s.baseDir, "index.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading index.json: %w", err)
	}
	var entries []indexEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing index.json: %w", err)
	}
	return entries, nil
}

func (s *Store) upsertIndex(entry indexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.ListWorkers()
	if err != nil {
		return err
	}
	replaced := false
	for i, e := range entries {
		if e.WorkerID == entry.WorkerID {
			if entry.CreatedAt.IsZero() {
				entry.CreatedAt = e.CreatedAt
			}
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.baseDir, "index.json"), raw, 0o600); err != nil {
		return fmt.Errorf("writing index.json: %w", err)
	}
	return nil
}

func appendLine(path string, raw []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return nil
}

func sanitizeFileSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
