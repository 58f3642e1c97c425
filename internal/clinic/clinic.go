// Package clinic holds the domain interfaces of the clinic data layer and
// the Backup and Restore engines that coordinate them.
package clinic

import (
	"context"
	"time"

	"clinicdesk/internal/metadata"
)

// Database is the live clinic database file and its connection.
type Database interface {
	// Path returns the filesystem path of the live database file.
	Path() string

	// Open opens the connection if it is not already open.
	Open() error

	// Close releases the connection and every file handle on the database.
	Close() error

	// BackupTo writes a consistent point-in-time copy of the live database
	// to destPath while the database stays online.
	BackupTo(ctx context.Context, destPath string) error

	// Checkpoint folds the write-ahead log into the main database file.
	Checkpoint(ctx context.Context) error
}

// Migrator brings the open database up to the latest schema version.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Inspector examines database files that are not the live database.
// Implementations must never modify the file they inspect.
type Inspector interface {
	// CheckIntegrity returns nil when path is a structurally sound SQLite
	// database and an error describing the first problem otherwise.
	CheckIntegrity(ctx context.Context, path string) error

	// ReadOwnerEmail returns the account identity recorded in the file,
	// or "" when the file carries none.
	ReadOwnerEmail(ctx context.Context, path string) (string, error)
}

// LicenseKeeper scrubs and reinjects the license namespace.
type LicenseKeeper interface {
	// SanitizeFile removes every license record from the database at path.
	SanitizeFile(ctx context.Context, path string) error

	// SanitizeLive removes every license record from the live database.
	SanitizeLive(ctx context.Context) error

	// CaptureLicense reads the license namespace from the live database.
	CaptureLicense(ctx context.Context) (*LicenseSnapshot, error)

	// RestoreLicense writes a captured snapshot back into the live database.
	RestoreLicense(ctx context.Context, snap *LicenseSnapshot) error

	// RestoreLicenseFile writes a captured snapshot into the database at path.
	RestoreLicenseFile(ctx context.Context, path string, snap *LicenseSnapshot) error
}

// CryptoGate encrypts and decrypts whole snapshot files with a passphrase.
type CryptoGate interface {
	// IsEncryptedFile inspects only the leading bytes of path.
	IsEncryptedFile(path string) (bool, error)
	EncryptFile(src, dst, passphrase string) error

	// DecryptFile returns an error wrapping ErrDecryptionFailed when the
	// passphrase is wrong or the payload was tampered with. dst is removed
	// on failure.
	DecryptFile(src, dst, passphrase string) error
}

// BackupDescription is the small JSON document attached to every cloud
// backup so it can be classified without downloading it.
type BackupDescription struct {
	Encrypted bool      `json:"encrypted"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	HostID    string    `json:"host_id,omitempty"`
}

// RemoteFile describes one object in the remote store.
type RemoteFile struct {
	ID          string
	Name        string
	Size        int64
	ModifiedAt  time.Time
	MimeType    string
	Description BackupDescription
}

// RemoteStore is the cloud object store holding off-site backups.
// Uploading a name that already exists replaces the previous object.
type RemoteStore interface {
	IsAuthenticated(ctx context.Context) (bool, error)
	UploadFile(ctx context.Context, path, name, mimeType string, desc BackupDescription) (*RemoteFile, error)

	// FindFile returns nil and no error when no object has the name.
	FindFile(ctx context.Context, name string) (*RemoteFile, error)
	DownloadFile(ctx context.Context, fileID, destPath string) error

	// ListFiles returns objects newest first. A limit <= 0 means no limit.
	ListFiles(ctx context.Context, limit int) ([]*RemoteFile, error)
	DeleteFile(ctx context.Context, fileID string) error

	// GetFileMetadata returns ErrRemoteNotFound for unknown IDs.
	GetFileMetadata(ctx context.Context, fileID string) (*RemoteFile, error)
}

// Settings is the persisted backup configuration, stored outside the database.
type Settings interface {
	LocalBackupPath() string
	ScheduleFrequency() string
	LastBackupAt() time.Time
	SetLastBackupAt(t time.Time) error
}

// Activation is one row of the licenses table.
type Activation struct {
	LicenseKeyMasked  string
	DeviceFingerprint string
	ActivatedAt       string
	ExpiresAt         string
	Payload           string
}

// LicenseSnapshot is the license namespace captured from a live database.
type LicenseSnapshot struct {
	Entries     []metadata.Entry
	Activations []Activation
}

// Empty reports whether the snapshot holds nothing to restore.
func (s *LicenseSnapshot) Empty() bool {
	return s == nil || (len(s.Entries) == 0 && len(s.Activations) == 0)
}
