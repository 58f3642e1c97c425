// Package metadata implements the application's key/value metadata store.
//
// Every key the application reads or writes is declared once in this file
// as a typed Key. Values are stored as text in the settings table and
// converted through the key's codec, so a caller can never write a value
// of the wrong shape under a known name.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidValue is returned when a stored value cannot be decoded by its key's codec.
var ErrInvalidValue = errors.New("invalid metadata value")

// Codec converts values of type T to and from their stored text form.
type Codec[T any] interface {
	Encode(T) (string, error)
	Decode(string) (T, error)
}

// Key is a typed handle on one metadata entry.
type Key[T any] struct {
	name  string
	kind  string
	codec Codec[T]
}

// Name returns the stored key name.
func (k Key[T]) Name() string { return k.name }

// Kind returns the codec kind ("string", "int", "bool", "time" or "json").
func (k Key[T]) Kind() string { return k.kind }

var registry = map[string]string{}

func newKey[T any](name, kind string, codec Codec[T]) Key[T] {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("metadata: key %q declared twice", name))
	}
	registry[name] = kind
	return Key[T]{name: name, kind: kind, codec: codec}
}

// Known reports whether name is a declared key.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns every declared key name in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MigrationInfo records the most recently applied migration.
type MigrationInfo struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// Schema bookkeeping.
var (
	LastMigrationVersion = newKey[int]("last_migration_version", "int", IntCodec{})
	LastMigrationInfo    = newKey[MigrationInfo]("last_migration_info", "json", JSONCodec[MigrationInfo]{})
	ReadOnly             = newKey[bool]("read_only", "bool", BoolCodec{})
)

// License and device binding. All of these live in the license namespace
// and are removed from every snapshot that leaves the machine.
var (
	LicenseCacheEncrypted = newKey[string]("license_cache_encrypted", "string", StringCodec{})
	LicenseKeyMasked      = newKey[string]("license_key_masked", "string", StringCodec{})
	LicenseStatus         = newKey[string]("license_status", "string", StringCodec{})
	LicenseType           = newKey[string]("license_type", "string", StringCodec{})
	LicenseExpiresAt      = newKey[time.Time]("license_expires_at", "time", TimeCodec{})
	LastLicenseCheckAt    = newKey[time.Time]("last_license_check_at", "time", TimeCodec{})
	DeviceFingerprint     = newKey[string]("device_fingerprint", "string", StringCodec{})
	SupportUnlockUntil    = newKey[time.Time]("support_unlock_until", "time", TimeCodec{})
	ActivationToken       = newKey[string]("activation_token", "string", StringCodec{})
)

// Account and session state.
var (
	OwnerEmail       = newKey[string]("owner_email", "string", StringCodec{})
	CurrentUserID    = newKey[int]("current_user_id", "int", IntCodec{})
	RememberedUserID = newKey[int]("remembered_user_id", "int", IntCodec{})
	LastAppUsageAt   = newKey[time.Time]("last_app_usage_at", "time", TimeCodec{})
)

var licensePrefixes = []string{"license_", "device_"}

var licenseNames = map[string]bool{
	LastLicenseCheckAt.Name(): true,
	SupportUnlockUntil.Name(): true,
	ActivationToken.Name():    true,

	// Pre-rename spelling of license_status, still present in old databases.
	"licenseStatus": true,
}

// InLicenseNamespace reports whether an entry name belongs to the license
// namespace. Unknown names with a license prefix are included so entries
// written by newer versions are still scrubbed.
func InLicenseNamespace(name string) bool {
	if licenseNames[name] {
		return true
	}
	for _, p := range licensePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// StringCodec stores strings as-is.
type StringCodec struct{}

func (StringCodec) Encode(v string) (string, error) { return v, nil }
func (StringCodec) Decode(s string) (string, error) { return s, nil }

// IntCodec stores integers in base 10.
type IntCodec struct{}

func (IntCodec) Encode(v int) (string, error) { return strconv.Itoa(v), nil }

func (IntCodec) Decode(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
	}
	return n, nil
}

// BoolCodec stores booleans as "true"/"false" and also accepts "1"/"0".
type BoolCodec struct{}

func (BoolCodec) Encode(v bool) (string, error) { return strconv.FormatBool(v), nil }

func (BoolCodec) Decode(s string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, s)
	}
	return b, nil
}

// TimeCodec stores timestamps as RFC 3339 in UTC.
type TimeCodec struct{}

func (TimeCodec) Encode(v time.Time) (string, error) {
	return v.UTC().Format(time.RFC3339Nano), nil
}

func (TimeCodec) Decode(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not an RFC 3339 timestamp", ErrInvalidValue, s)
	}
	return t, nil
}

// JSONCodec stores any JSON-serializable value.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding json value: %w", err)
	}
	return string(b), nil
}

func (JSONCodec[T]) Decode(s string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return v, nil
}
