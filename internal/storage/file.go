package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "bizflow/pkg/logx"
)

const compactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.reports.jsonl       (append-only JSON Lines)
//   - <prefix>.fired.snapshot.json (periodic snapshot)
//   - <prefix>.fired.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log       logx.Logger
	retention time.Duration

	mu sync.Mutex

	reportPath string
	reportFile *os.File

	firedSnapshotPath string
	firedJournalFile  *os.File
	fired             map[FireKey]int64 // unix milli

	firedWrites int
}

type firedRecord struct {
	FireKey
	At  int64 `json:"at"`
	Del bool  `json:"del,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	reportPath := prefix + ".reports.jsonl"
	snapPath := prefix + ".fired.snapshot.json"
	journalPath := prefix + ".fired.journal.jsonl"

	rf, err := os.OpenFile(reportPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	fired := map[FireKey]int64{}
	if err := loadFiredSnapshot(snapPath, fired); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("fire-state snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayFiredJournal(journalPath, fired); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("fire-state journal unreadable", logx.String("path", journalPath), logx.Err(err))
	}
	pruneFired(fired, cfg.Retention)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("fired", len(fired)))
	return &fileStore{
		log:               log,
		retention:         cfg.Retention,
		reportPath:        reportPath,
		reportFile:        rf,
		firedSnapshotPath: snapPath,
		firedJournalFile:  jf,
		fired:             fired,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.reportFile != nil {
		err1 = s.reportFile.Close()
		s.reportFile = nil
	}
	if s.firedJournalFile != nil {
		err2 = s.firedJournalFile.Close()
		s.firedJournalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) MarkFired(_ context.Context, k FireKey, firedAt time.Time) (bool, error) {
	if !k.valid() {
		return false, errors.New("fire key needs event type and offset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firedJournalFile == nil {
		return false, errors.New("fire-state journal closed")
	}
	if _, ok := s.fired[k]; ok {
		return false, nil
	}
	ms := firedAt.UnixMilli()
	// Journal first: the in-memory entry only exists once it is durable.
	if err := json.NewEncoder(s.firedJournalFile).Encode(firedRecord{FireKey: k, At: ms}); err != nil {
		return false, err
	}
	if err := s.firedJournalFile.Sync(); err != nil {
		return false, err
	}
	s.fired[k] = ms
	s.afterWriteLocked()
	return true, nil
}

func (s *fileStore) Unmark(_ context.Context, k FireKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firedJournalFile == nil {
		return errors.New("fire-state journal closed")
	}
	if _, ok := s.fired[k]; !ok {
		return nil
	}
	if err := json.NewEncoder(s.firedJournalFile).Encode(firedRecord{FireKey: k, Del: true}); err != nil {
		return err
	}
	if err := s.firedJournalFile.Sync(); err != nil {
		return err
	}
	delete(s.fired, k)
	s.afterWriteLocked()
	return nil
}

func (s *fileStore) Fired(_ context.Context, k FireKey) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.fired[k]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) afterWriteLocked() {
	s.firedWrites++
	if s.firedWrites%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("fire-state compact failed", logx.Err(err))
		}
	}
}

func (s *fileStore) AppendReport(_ context.Context, r ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reportFile == nil {
		return errors.New("report file closed")
	}
	return json.NewEncoder(s.reportFile).Encode(r)
}

func (s *fileStore) RecentReports(_ context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.reportPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]ReportRecord, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r ReportRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if len(ring) == limit {
			ring = ring[1:]
		}
		ring = append(ring, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]ReportRecord, len(ring))
	for i := range ring {
		out[i] = ring[len(ring)-1-i]
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	pruneFired(s.fired, s.retention)

	recs := make([]firedRecord, 0, len(s.fired))
	for k, at := range s.fired {
		recs = append(recs, firedRecord{FireKey: k, At: at})
	}
	tmp := s.firedSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(recs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.firedSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.firedJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.firedJournalFile.Seek(0, 2)
	return err
}

func loadFiredSnapshot(path string, out map[FireKey]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var recs []firedRecord
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return err
	}
	for _, r := range recs {
		out[r.FireKey] = r.At
	}
	return nil
}

func replayFiredJournal(path string, out map[FireKey]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r firedRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if !r.FireKey.valid() {
			continue
		}
		if r.Del {
			delete(out, r.FireKey)
			continue
		}
		out[r.FireKey] = r.At
	}
	return s.Err()
}

func pruneFired(m map[FireKey]int64, retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention).UnixMilli()
	for k, v := range m {
		if v < cutoff && k.Expires() {
			delete(m, k)
		}
	}
}
