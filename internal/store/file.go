package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"remindme/internal/model"

	"github.com/sirupsen/logrus"
)

// FileBackend keeps the snapshot in a single JSON file of the form
// {"<owner>": [reminder, ...]}. Every write rewrites the whole file through a
// temporary file and a rename, so a crash never leaves a half-written file.
type FileBackend struct {
	path   string
	logger *logrus.Logger

	readOnly bool

	mu     sync.Mutex
	mirror model.Snapshot
}

// ErrReadOnly is returned by writes to a backend opened for inspection.
var ErrReadOnly = errors.New("store is read-only")

func NewFileBackend(path string, logger *logrus.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileBackend{
		path:   path,
		logger: logger,
		mirror: model.Snapshot{},
	}, nil
}

// NewReadOnlyFileBackend opens the snapshot for inspection. It never writes,
// renames or creates files.
func NewReadOnlyFileBackend(path string, logger *logrus.Logger) *FileBackend {
	return &FileBackend{
		path:     path,
		logger:   logger,
		readOnly: true,
		mirror:   model.Snapshot{},
	}
}

// fileRecord accepts both the current record shape and the one written by
// the first version of the bot ({"id", "time", "text", "user_id"}).
type fileRecord struct {
	model.Reminder
	LegacyTime  string          `json:"time,omitempty"`
	LegacyOwner json.RawMessage `json:"user_id,omitempty"`
}

// Load reads the snapshot. Records that cannot be decoded are skipped and
// returned next to the snapshot. Only a file that is not a JSON object fails
// the load; it is then moved aside unless the backend is read-only.
func (f *FileBackend) Load(_ context.Context) (model.Snapshot, []model.RecordError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.Warnf("Snapshot %s not found, starting empty", f.path)
		f.mirror = model.Snapshot{}
		return model.Snapshot{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap, skipped, err := decodeSnapshot(data)
	if err != nil {
		if !f.readOnly {
			f.mirror = model.Snapshot{}
			// Keep the unreadable file around instead of overwriting it on the next write
			backup := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().Unix())
			if rerr := os.Rename(f.path, backup); rerr != nil {
				f.logger.Errorf("Failed to move corrupt snapshot aside: %v", rerr)
			}
		}
		return nil, nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}

	f.mirror = cloneSnapshot(snap)
	return snap, skipped, nil
}

func decodeSnapshot(data []byte) (model.Snapshot, []model.RecordError, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	snap := make(model.Snapshot, len(raw))
	var skipped []model.RecordError
	for _, key := range keys {
		owner, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			skipped = append(skipped, model.RecordError{Err: fmt.Errorf("invalid owner %q", key)})
			continue
		}
		var records []json.RawMessage
		if err := json.Unmarshal(raw[key], &records); err != nil {
			skipped = append(skipped, model.RecordError{Owner: owner, Err: fmt.Errorf("records are not a list: %w", err)})
			continue
		}
		for _, msg := range records {
			r, err := decodeRecord(owner, msg)
			if err != nil {
				skipped = append(skipped, model.RecordError{Owner: owner, ID: recordID(msg), Err: err})
				continue
			}
			snap[owner] = append(snap[owner], r)
		}
	}
	return snap, skipped, nil
}

func decodeRecord(owner int64, msg json.RawMessage) (model.Reminder, error) {
	var rec fileRecord
	if err := json.Unmarshal(msg, &rec); err != nil {
		return model.Reminder{}, err
	}
	return rec.reminder(owner)
}

// recordID digs the id out of a record that failed to decode.
func recordID(msg json.RawMessage) string {
	var rec struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(msg, &rec)
	return rec.ID
}

func (rec fileRecord) reminder(owner int64) (model.Reminder, error) {
	r := rec.Reminder.Clone()
	r.Owner = owner

	if r.FireAt.IsZero() && rec.LegacyTime != "" {
		t, err := time.Parse(time.RFC3339Nano, rec.LegacyTime)
		if err != nil {
			return model.Reminder{}, fmt.Errorf("timestamp %q has no zone offset: %w", rec.LegacyTime, err)
		}
		r.FireAt = t
	}
	if r.ID == "" {
		return model.Reminder{}, errors.New("missing id")
	}
	if r.FireAt.IsZero() {
		return model.Reminder{}, errors.New("missing fire time")
	}
	if r.ScheduleID == "" {
		// Legacy records used the reminder id as the job id
		r.ScheduleID = r.ID
	}
	r.Normalize()
	return r, nil
}

func (f *FileBackend) Save(_ context.Context, snap model.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := cloneSnapshot(snap)
	if err := f.write(next); err != nil {
		return err
	}
	f.mirror = next
	return nil
}

func (f *FileBackend) Upsert(_ context.Context, r model.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := cloneSnapshot(f.mirror)
	rs := next[r.Owner]
	replaced := false
	for i := range rs {
		if rs[i].ID == r.ID {
			rs[i] = r.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		rs = append(rs, r.Clone())
	}
	next[r.Owner] = rs

	if err := f.write(next); err != nil {
		return err
	}
	f.mirror = next
	return nil
}

func (f *FileBackend) Delete(_ context.Context, owner int64, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := cloneSnapshot(f.mirror)
	rs := next[owner]
	out := rs[:0]
	for _, r := range rs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		delete(next, owner)
	} else {
		next[owner] = out
	}

	if err := f.write(next); err != nil {
		return err
	}
	f.mirror = next
	return nil
}

func (f *FileBackend) write(snap model.Snapshot) error {
	if f.readOnly {
		return ErrReadOnly
	}
	for owner := range snap {
		sortReminders(snap[owner])
	}

	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Ping checks that the snapshot directory is still writable, or only that
// it exists for a read-only backend.
func (f *FileBackend) Ping(_ context.Context) error {
	if f.readOnly {
		_, err := os.Stat(filepath.Dir(f.path))
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".ping-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	tmp.Close()
	return os.Remove(name)
}

func (f *FileBackend) Close() error {
	return nil
}

func cloneSnapshot(snap model.Snapshot) model.Snapshot {
	out := make(model.Snapshot, len(snap))
	for owner, rs := range snap {
		cp := make([]model.Reminder, len(rs))
		for i, r := range rs {
			cp[i] = r.Clone()
		}
		out[owner] = cp
	}
	return out
}
