package archive

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"edge_certd/internal/renewal"

	"github.com/sirupsen/logrus"
)

// FileName is the fixed name the encrypted archive is stored under, both
// locally and in the platform binary storage
const FileName = "acme.sh.tar.gz.enc"

const keyLength = 32

const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Store is the subset of the platform client the archive service depends on
type Store interface {
	ListTenantOptions(ctx context.Context, category string) (map[string]string, error)
	CreateTenantOption(ctx context.Context, category, key, value string) error
	UploadBinary(ctx context.Context, name string, data []byte) (string, error)
	DownloadBinary(ctx context.Context, id string) ([]byte, error)
	DeleteBinary(ctx context.Context, id string) error
	FindNewestBinary(ctx context.Context, name string) (string, bool, error)
}

// Service backs up and restores the ACME client's state directory as a
// password-encrypted archive in remote binary storage
type Service struct {
	store    Store
	category string
	baseDir  string
	logger   *logrus.Entry
}

// NewService creates an archive service rooted at baseDir
func NewService(store Store, category, baseDir string, logger *logrus.Entry) *Service {
	return &Service{
		store:    store,
		category: category,
		baseDir:  baseDir,
		logger:   logger.WithField("component", "archive"),
	}
}

// Backup archives the state directory, encrypts it and uploads it under
// the fixed name. The previously recorded archive is deleted only after
// the new upload succeeded, so at most one archive survives a full cycle
// and a partial failure never loses the only copy.
func (s *Service) Backup(ctx context.Context) error {
	previousID, hasPrevious, err := s.store.FindNewestBinary(ctx, FileName)
	if err != nil {
		return fmt.Errorf("failed to look up previous archive: %w", err)
	}

	password, err := s.encryptionKey(ctx)
	if err != nil {
		return err
	}

	data, err := createTarGz(s.baseDir, renewal.StateDirName)
	if err != nil {
		return err
	}

	encrypted, err := Encrypt(data, password)
	if err != nil {
		return err
	}

	localPath := filepath.Join(s.baseDir, FileName)
	if err := os.WriteFile(localPath, encrypted, 0600); err != nil {
		return fmt.Errorf("failed to write local archive: %w", err)
	}

	if _, err := s.store.UploadBinary(ctx, FileName, encrypted); err != nil {
		return err
	}
	s.logger.Info("Archive uploaded")

	if hasPrevious {
		// A failed deletion transiently leaves two archives; the next
		// backup's newest-first lookup self-heals.
		if err := s.store.DeleteBinary(ctx, previousID); err != nil {
			s.logger.WithError(err).Warn("Failed to delete previous archive")
		}
	}

	return nil
}

// Restore downloads the newest archive and extracts it into the state
// directory, overwriting prior local state. It returns false when no
// archive exists. Invoked once at startup; the caller treats failure as a
// warning, not a startup error.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	id, found, err := s.store.FindNewestBinary(ctx, FileName)
	if err != nil {
		return false, fmt.Errorf("failed to look up archive: %w", err)
	}
	if !found {
		s.logger.Info("No archive found to restore")
		return false, nil
	}
	s.logger.WithField("archive_id", id).Debug("Restoring archive")

	encrypted, err := s.store.DownloadBinary(ctx, id)
	if err != nil {
		return false, err
	}

	localPath := filepath.Join(s.baseDir, FileName)
	if err := os.WriteFile(localPath, encrypted, 0600); err != nil {
		return false, fmt.Errorf("failed to write local archive: %w", err)
	}

	password, err := s.encryptionKey(ctx)
	if err != nil {
		return false, err
	}

	data, err := Decrypt(encrypted, password)
	if err != nil {
		return false, err
	}

	if err := extractTarGz(data, s.baseDir); err != nil {
		return false, err
	}

	s.logger.Info("Archive extracted")
	return true, nil
}

// encryptionKey reads the per-tenant archive key from the remote options,
// generating and persisting a fresh one when absent. Persisting is
// best-effort: the current run proceeds with the in-memory key even when
// the write fails, at the cost of that key not being reusable on restore.
func (s *Service) encryptionKey(ctx context.Context) (string, error) {
	var key string
	options, err := s.store.ListTenantOptions(ctx, s.category)
	if err == nil {
		key = options[renewal.OptionArchiveEncryptionKey]
	}

	if key == "" {
		key, err = generateKey(keyLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate encryption key: %w", err)
		}
		optionKey := "credentials." + renewal.OptionArchiveEncryptionKey
		if err := s.store.CreateTenantOption(ctx, s.category, optionKey, key); err != nil {
			s.logger.WithError(err).Warn("Failed to persist archive encryption key")
		}
	}

	return key, nil
}

// generateKey returns a random alphanumeric string of length n
func generateKey(n int) (string, error) {
	key := make([]byte, n)
	for i := range key {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
		if err != nil {
			return "", err
		}
		key[i] = keyAlphabet[idx.Int64()]
	}
	return string(key), nil
}
