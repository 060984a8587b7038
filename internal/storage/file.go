package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ccbell/internal/event"
	logx "ccbell/pkg/logx"
)

// compactAfter is the journal length at which the store folds the journal
// into the snapshot.
const compactAfter = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl             (append-only JSON Lines)
//   - <prefix>.cooldowns.snapshot.json (periodic snapshot)
//   - <prefix>.cooldowns.journal.jsonl (append-only journal)
//
// Each hook invocation is a separate process, so the journal is replayed on
// open and compacted once it grows past compactAfter records. Appends use
// O_APPEND and write whole lines, which keeps concurrent writers from
// interleaving records.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditPath string
	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	cooldowns    map[event.Type]time.Time

	journalLen int
}

type cooldownRecord struct {
	Type event.Type `json:"type"`
	At   time.Time  `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
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

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".cooldowns.snapshot.json"
	journalPath := prefix + ".cooldowns.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	cooldowns := map[event.Type]time.Time{}
	if err := loadSnapshot(snapPath, cooldowns); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("cooldown snapshot unreadable; ignoring", logx.String("path", snapPath), logx.Err(err))
	}
	n, err := replayJournal(journalPath, cooldowns)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("cooldown journal unreadable; ignoring", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	s := &fileStore{
		log:          log,
		auditPath:    auditPath,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		cooldowns:    cooldowns,
		journalLen:   n,
	}
	if n >= compactAfter {
		s.mu.Lock()
		if err := s.compactLocked(); err != nil {
			log.Debug("cooldown compact failed", logx.Err(err))
		}
		s.mu.Unlock()
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) LoadCooldowns(ctx context.Context) (map[event.Type]time.Time, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[event.Type]time.Time, len(s.cooldowns))
	for k, v := range s.cooldowns {
		out[k] = v
	}
	return out, nil
}

func (s *fileStore) PutCooldown(ctx context.Context, t event.Type, at time.Time) error {
	_ = ctx
	if t == "" || at.IsZero() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("cooldown journal closed")
	}
	if prev, ok := s.cooldowns[t]; ok && !at.After(prev) {
		return nil
	}
	s.cooldowns[t] = at

	if err := writeLine(s.journalFile, cooldownRecord{Type: t, At: at}); err != nil {
		return err
	}
	s.journalLen++
	if s.journalLen >= compactAfter {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("cooldown compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return writeLine(s.auditFile, e)
}

func (s *fileStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	_ = ctx
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := readAudit(s.auditPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	// newest first
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.After(entries[j].At) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *fileStore) Compact(ctx context.Context, before time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil || s.auditFile == nil {
		return errors.New("store closed")
	}
	if err := s.compactLocked(); err != nil {
		return err
	}
	if before.IsZero() {
		return nil
	}
	return s.pruneAuditLocked(before)
}

func (s *fileStore) compactLocked() error {
	if err := writeJSONAtomic(s.snapshotPath, s.cooldowns); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journalFile.Seek(0, 2); err != nil {
		return err
	}
	s.journalLen = 0
	return nil
}

func (s *fileStore) pruneAuditLocked(before time.Time) error {
	entries, err := readAudit(s.auditPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	tmp := s.auditPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	kept := 0
	for _, e := range entries {
		if e.At.Before(before) {
			continue
		}
		if err := writeLine(f, e); err != nil {
			_ = f.Close()
			return err
		}
		kept++
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.auditPath); err != nil {
		return err
	}

	// The old descriptor points at the replaced inode.
	_ = s.auditFile.Close()
	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.auditFile = nil
		return err
	}
	s.auditFile = af
	s.log.Debug("audit pruned", logx.Int("kept", kept), logx.Int("dropped", len(entries)-kept))
	return nil
}

func writeLine(f *os.File, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadSnapshot(path string, out map[event.Type]time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[event.Type]time.Time
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		mergeLatest(out, k, v)
	}
	return nil
}

// replayJournal applies journal records to out and returns how many it read.
func replayJournal(path string, out map[event.Type]time.Time) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r cooldownRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// torn write from a crashed process
			continue
		}
		if r.Type == "" || r.At.IsZero() {
			continue
		}
		mergeLatest(out, r.Type, r.At)
		n++
	}
	return n, sc.Err()
}

func readAudit(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func mergeLatest(m map[event.Type]time.Time, t event.Type, at time.Time) {
	if prev, ok := m[t]; ok && !at.After(prev) {
		return
	}
	m[t] = at
}
