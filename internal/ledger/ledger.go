package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/palma21/mr-comments-bot/internal/storage"
	"github.com/sirupsen/logrus"
)

// Store loads and saves the comment ledger as a single JSON object
type Store struct {
	storage storage.StorageInterface
	name    string
}

// NewStore creates a ledger store persisting under name in the given backend
func NewStore(backend storage.StorageInterface, name string) *Store {
	return &Store{
		storage: backend,
		name:    name,
	}
}

// Name returns the object name the ledger is persisted under
func (s *Store) Name() string {
	return s.name
}

// Load returns the persisted ledger. A missing, unreadable or malformed
// ledger yields an empty one so the cycle can proceed.
func (s *Store) Load(ctx context.Context) models.Ledger {
	data, err := s.storage.Retrieve(ctx, s.name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logrus.Infof("No ledger at %s yet, starting empty", s.name)
		} else {
			logrus.Errorf("Error loading tracked comments: %v", err)
		}
		return models.Ledger{}
	}

	ledger := models.Ledger{}
	if err := json.Unmarshal(data, &ledger); err != nil {
		logrus.Errorf("Error parsing tracked comments in %s: %v", s.name, err)
		return models.Ledger{}
	}
	if ledger == nil {
		logrus.Warnf("Ledger %s holds null, starting empty", s.name)
		return models.Ledger{}
	}

	for id, record := range ledger {
		if record == nil {
			delete(ledger, id)
		}
	}

	logrus.Debugf("Loaded %d tracked comments from %s", len(ledger), s.name)
	return ledger
}

// Save overwrites the persisted ledger with the given one
func (s *Store) Save(ctx context.Context, ledger models.Ledger) error {
	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	if err := s.storage.Store(ctx, s.name, data); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}

	return nil
}
