package clinic

import "strings"

// MaskEmail hides all but the first two characters of the local part.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return maskRunes(email)
	}
	return maskRunes(email[:at]) + email[at:]
}

func maskRunes(s string) string {
	r := []rune(s)
	if len(r) <= 2 {
		return s
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-2)
}

// checkOwnership decides whether a backup owned by backupEmail may be
// restored by an account claiming expectedEmail. Backups without an
// identity are always allowed. force overrides both rejections; the
// override is logged by the caller.
func checkOwnership(backupEmail, expectedEmail string, force bool) (overridden bool, err error) {
	backupEmail = strings.TrimSpace(backupEmail)
	if backupEmail == "" {
		return false, nil
	}
	expectedEmail = strings.TrimSpace(expectedEmail)
	if expectedEmail != "" && strings.EqualFold(backupEmail, expectedEmail) {
		return false, nil
	}
	if force {
		return true, nil
	}
	kind := ErrConfirmationRequired
	if expectedEmail != "" {
		kind = ErrOwnershipMismatch
	}
	return false, &OwnershipError{Kind: kind, MaskedEmail: MaskEmail(backupEmail)}
}
