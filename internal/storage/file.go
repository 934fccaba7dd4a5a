package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"starwatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl   (append-only JSON Lines)
//   - <prefix>.consent.json  (snapshot, rewritten atomically on change)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile   *os.File
	consentPath string
	consent     map[string]Consent
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

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	consentPath := prefix + ".consent.json"
	consent := map[string]Consent{}
	if err := loadConsent(consentPath, consent); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("consent snapshot unreadable; starting empty", logx.String("path", consentPath), logx.Err(err))
	}

	return &fileStore{
		log:         log,
		auditFile:   af,
		consentPath: consentPath,
		consent:     consent,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	e = normalizeAudit(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutConsent(ctx context.Context, c Consent) error {
	_ = ctx
	c.Surface = strings.TrimSpace(c.Surface)
	if c.Surface == "" {
		return errors.New("consent surface is empty")
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("store closed")
	}
	s.consent[c.Surface] = c
	return s.writeConsentLocked()
}

func (s *fileStore) GetConsent(ctx context.Context, surface string) (Consent, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consent[strings.TrimSpace(surface)]
	return c, ok, nil
}

func (s *fileStore) writeConsentLocked() error {
	tmp := s.consentPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.consent); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.consentPath)
}

func loadConsent(path string, out map[string]Consent) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Consent
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
