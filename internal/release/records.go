package release

import "time"

// InstalledRecord is the manifest last fully applied to an install root.
type InstalledRecord struct {
	InstallRoot string
	Manifest    *Manifest
	InstalledAt time.Time
}

// Operation is one tracked CLI operation.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RecordStore persists installed records and the operation history.
type RecordStore interface {
	// GetInstalled returns nil and no error when installRoot has no record.
	GetInstalled(installRoot string) (*InstalledRecord, error)

	// PutInstalled replaces the record for installRoot in one write.
	PutInstalled(installRoot string, m *Manifest) error

	DeleteInstalled(installRoot string) error
	ListInstalled() ([]*InstalledRecord, error)

	CreateOperation(operation, parameters string) (*Operation, error)
	FinishOperation(id int64, status string) error
	ListOperations(limit int) ([]*Operation, error)

	// CheckMigrations verifies the schema is current.
	CheckMigrations() error
	Close() error
}
