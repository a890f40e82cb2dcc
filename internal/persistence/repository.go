package persistence

import "maker-bot-go/internal/models"

// BaselineRepository defines the interface for baseline persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type BaselineRepository interface {
	// SaveBaseline atomically replaces the stored baseline record.
	SaveBaseline(baseline *models.Baseline) error

	// LoadBaseline loads the baseline from storage.
	// If no baseline is found, it returns (nil, nil).
	LoadBaseline() (*models.Baseline, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
