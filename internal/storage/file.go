package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "pulse/pkg/logx"
)

// fileStore keeps everything in JSON Lines next to cfg.Path:
//   - <prefix>.runs.jsonl          (append-only run history)
//   - <prefix>.dedup.snapshot.json (compacted dedup state)
//   - <prefix>.dedup.journal.jsonl (dedup writes since the last compaction)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsPath string
	runsFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	snapPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	dedup := map[string]int64{}
	_ = loadDedupSnapshot(snapPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:               log,
		runsPath:          runsPath,
		runsFile:          rf,
		dedupSnapshotPath: snapPath,
		dedupJournalFile:  jf,
		dedup:             dedup,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.runsFile != nil {
		errs = append(errs, s.runsFile.Close())
		s.runsFile = nil
	}
	if s.dedupJournalFile != nil {
		errs = append(errs, s.dedupJournalFile.Close())
		s.dedupJournalFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendRun(_ context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrDisabled
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

// RecentRuns scans the whole history file; it is meant for CLI inspection,
// not for a hot path.
func (s *fileStore) RecentRuns(ctx context.Context, pulse string, limit int) ([]RunRecord, error) {
	limit = normLimit(limit)

	s.mu.Lock()
	closed := s.runsFile == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrDisabled
	}

	f, err := os.Open(s.runsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Ring of the last `limit` matches.
	ring := make([]RunRecord, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue // torn write
		}
		if r.Pulse != pulse {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, r)
			continue
		}
		ring[next] = r
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	out := make([]RunRecord, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return ErrDisabled
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup, time.Now())

	tmp := s.dedupSnapshotPath + ".tmp"
	b, err := json.Marshal(s.dedup)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, io.SeekEnd)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	cut := now.UnixMilli()
	for k, v := range m {
		if v < cut {
			delete(m, k)
		}
	}
}
