package clinic

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned by database operations on a closed connection.
	ErrNotOpen = errors.New("database is not open")

	// ErrReadOnly is returned for writes while the read_only flag is set.
	ErrReadOnly = errors.New("database is in read-only mode")

	// ErrCorruptedFile means a snapshot failed the integrity check.
	ErrCorruptedFile = errors.New("backup file is corrupted")

	// ErrPasswordRequired means the artifact is encrypted and no passphrase was given.
	ErrPasswordRequired = errors.New("backup is encrypted and requires a password")

	// ErrDecryptionFailed means the passphrase was wrong or the payload was altered.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrSanitize means the license namespace could not be scrubbed from a snapshot.
	ErrSanitize = errors.New("failed to sanitize backup")

	// ErrLicenseRestore means the captured license could not be written back.
	ErrLicenseRestore = errors.New("failed to restore license")

	// ErrNotAuthenticated means the remote store has no usable credentials.
	ErrNotAuthenticated = errors.New("cloud storage is not authenticated")

	// ErrNoRemoteStore means no remote store is configured.
	ErrNoRemoteStore = errors.New("no cloud storage configured")

	// ErrRemoteNotFound means the remote object does not exist.
	ErrRemoteNotFound = errors.New("cloud backup not found")

	// ErrOwnershipMismatch and ErrConfirmationRequired classify *OwnershipError.
	ErrOwnershipMismatch    = errors.New("backup belongs to a different account")
	ErrConfirmationRequired = errors.New("backup ownership must be confirmed")
)

// OwnershipError is returned when a backup's recorded owner does not match
// the restoring account, or when no expected account was supplied.
type OwnershipError struct {
	Kind        error // ErrOwnershipMismatch or ErrConfirmationRequired
	MaskedEmail string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%v (backup owner %s)", e.Kind, e.MaskedEmail)
}

func (e *OwnershipError) Unwrap() error { return e.Kind }

// RestoreError reports where a restore failed and whether the live
// database was rolled back to its recovery copy.
type RestoreError struct {
	State      RestoreState
	RolledBack bool
	Err        error
}

func (e *RestoreError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("restore failed after %s, previous database restored: %v", e.State, e.Err)
	}
	return fmt.Sprintf("restore failed after %s: %v", e.State, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Describe turns an engine error into the message shown to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var own *OwnershipError
	var rerr *RestoreError
	switch {
	case errors.As(err, &own) && errors.Is(own.Kind, ErrOwnershipMismatch):
		return fmt.Sprintf("This backup belongs to a different account (%s).", own.MaskedEmail)
	case errors.As(err, &own):
		return fmt.Sprintf("This backup belongs to %s. Confirm the account or use --force to restore it anyway.", own.MaskedEmail)
	case errors.Is(err, ErrPasswordRequired):
		return "This backup is encrypted. Please enter the backup password."
	case errors.Is(err, ErrDecryptionFailed):
		return "Wrong password, or the backup file was modified."
	case errors.Is(err, ErrCorruptedFile):
		return "The backup file is corrupted and cannot be used."
	case errors.Is(err, ErrSanitize):
		return "The backup could not be prepared. Nothing was written."
	case errors.Is(err, ErrNotAuthenticated):
		return "Cloud storage is not signed in."
	case errors.Is(err, ErrNoRemoteStore):
		return "Cloud storage is not configured."
	case errors.Is(err, ErrRemoteNotFound):
		return "No cloud backup was found."
	case errors.Is(err, ErrLicenseRestore) && errors.As(err, &rerr) && rerr.RolledBack:
		return "The license could not be restored. Your previous data was put back."
	case errors.As(err, &rerr) && rerr.RolledBack:
		return "The restore failed. Your previous data was put back."
	case errors.As(err, &rerr) && rerr.State >= StateRecoverySnapshotted:
		return "The restore failed and the previous data could not be put back automatically. A recovery copy is kept next to the database."
	default:
		return fmt.Sprintf("Operation failed: %v", err)
	}
}
