package authflow

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"kitebot/internal/logger"
)

const (
	primaryFile  = "current_token.enc"
	backupFile   = "backup_token.enc"
	historyFile  = "token_history.json"
	keyFile      = "encryption_key.key"
	legacyFile   = "latest_token.txt"
	historyDays  = 30
	keyFileMode  = 0o600
	dataFileMode = 0o600
)

// CredentialStore persists the broker access credential encrypted at rest.
// The primary file is authoritative; the backup covers primary corruption
// and the plaintext legacy file is a last-resort migration path.
type CredentialStore struct {
	dir         string
	maxAge      time.Duration
	historyDays int
	key         [32]byte
	nowFn       func() time.Time
}

// NewCredentialStore opens (or initializes) the store under dir. A missing
// encryption key is generated on first use.
func NewCredentialStore(dir string, maxAge time.Duration) (*CredentialStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	s := &CredentialStore{dir: dir, maxAge: maxAge, historyDays: historyDays, nowFn: time.Now}
	if err := s.loadOrCreateKey(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetHistoryRetention overrides how long history entries are kept.
func (s *CredentialStore) SetHistoryRetention(days int) {
	if days > 0 {
		s.historyDays = days
	}
}

func (s *CredentialStore) loadOrCreateKey() error {
	path := filepath.Join(s.dir, keyFile)
	raw, err := os.ReadFile(path)
	if err == nil {
		decoded, derr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if derr != nil || len(decoded) != 32 {
			return fmt.Errorf("encryption key file %s is corrupt", path)
		}
		copy(s.key[:], decoded)
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("read encryption key: %w", err)
	}

	if _, err := rand.Read(s.key[:]); err != nil {
		return fmt.Errorf("generate encryption key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(s.key[:])
	if err := writeFileAtomic(path, []byte(encoded), keyFileMode); err != nil {
		return fmt.Errorf("write encryption key: %w", err)
	}
	logger.Infof("generated new credential encryption key at %s", path)
	return nil
}

// Save persists the record to the primary file, rotates the previous
// primary into the backup slot and appends a history entry.
func (s *CredentialStore) Save(rec *Record) error {
	plain, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}

	primary := filepath.Join(s.dir, primaryFile)
	backup := filepath.Join(s.dir, backupFile)

	// Rotate the old primary to backup before overwriting it.
	if prev, err := os.ReadFile(primary); err == nil {
		if werr := writeFileAtomic(backup, prev, dataFileMode); werr != nil {
			logger.Warnf("rotate credential backup failed: %v", werr)
		}
	}
	if err := writeFileAtomic(primary, sealed, dataFileMode); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}

	if err := s.appendHistory(rec); err != nil {
		logger.Warnf("append credential history failed: %v", err)
	}

	// Drop the plaintext legacy file once an encrypted copy exists.
	if err := os.Remove(filepath.Join(s.dir, legacyFile)); err == nil {
		logger.Infof("removed plaintext legacy credential file")
	}
	return nil
}

// Load returns the newest readable credential. It tries primary, then
// backup, then the plaintext legacy file, and returns ErrNoCredential
// when none yields a token.
func (s *CredentialStore) Load() (*Record, error) {
	for _, name := range []string{primaryFile, backupFile} {
		rec, err := s.loadEncrypted(filepath.Join(s.dir, name))
		if err == nil {
			if name == backupFile {
				logger.Warnf("primary credential unreadable, recovered from backup")
			}
			return rec, nil
		}
		if !os.IsNotExist(err) {
			logger.Warnf("credential file %s unreadable: %v", name, err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, legacyFile))
	if err != nil {
		return nil, ErrNoCredential
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return nil, ErrNoCredential
	}
	logger.Warnf("using plaintext legacy credential, age unknown")
	return &Record{AccessToken: token, Legacy: true}, nil
}

func (s *CredentialStore) loadEncrypted(path string) (*Record, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plain, err := s.open(sealed)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	if rec.AccessToken == "" {
		return nil, fmt.Errorf("credential record has empty token")
	}
	return &rec, nil
}

// MarkValidated records a successful broker-side validation of the
// currently stored credential.
func (s *CredentialStore) MarkValidated(rec *Record) error {
	rec.ValidatedAt = s.nowFn()
	rec.ValidationCount++
	rec.IsValid = true
	rec.LastError = ""
	if rec.Legacy {
		// A validated legacy token gets promoted into the encrypted
		// tier with a fresh creation timestamp.
		rec.CreatedAt = s.nowFn()
		rec.Legacy = false
	}
	return s.Save(rec)
}

// MarkInvalid records a failed validation without discarding the record.
func (s *CredentialStore) MarkInvalid(rec *Record, cause error) error {
	rec.IsValid = false
	rec.LastError = cause.Error()
	return s.Save(rec)
}

// IsStale reports whether the credential is older than the configured
// maximum age. Legacy records are always stale because their age is
// unknown.
func (s *CredentialStore) IsStale(rec *Record) bool {
	if rec.Legacy {
		return true
	}
	return rec.Age(s.nowFn()) > s.maxAge
}

func (s *CredentialStore) appendHistory(rec *Record) error {
	path := filepath.Join(s.dir, historyFile)

	var entries []historyEntry
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &entries); err != nil {
			logger.Warnf("credential history corrupt, starting fresh: %v", err)
			entries = nil
		}
	}
	entries = append(entries, historyEntry{
		SavedAt:  s.nowFn(),
		UserID:   rec.UserID,
		UserName: rec.UserName,
		Valid:    rec.IsValid,
	})

	cutoff := s.nowFn().AddDate(0, 0, -s.historyDays)
	kept := entries[:0]
	for _, e := range entries {
		if e.SavedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}

	raw, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, raw, dataFileMode)
}

// PrimaryPath returns the path of the authoritative credential file, for
// change watchers.
func (s *CredentialStore) PrimaryPath() string {
	return filepath.Join(s.dir, primaryFile)
}

func (s *CredentialStore) seal(plain []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.key)
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(encoded, sealed)
	return encoded, nil
}

func (s *CredentialStore) open(encoded []byte) ([]byte, error) {
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(sealed, encoded)
	if err != nil {
		return nil, fmt.Errorf("credential file is not base64: %w", err)
	}
	sealed = sealed[:n]
	if len(sealed) < 24 {
		return nil, fmt.Errorf("credential ciphertext truncated")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("credential decryption failed")
	}
	return plain, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cred-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
