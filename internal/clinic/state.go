package clinic

// RestoreState is a step of the restore sequence.
type RestoreState int

const (
	StateIdle RestoreState = iota
	StateLocated
	StateClassified
	StateDecrypted
	StateIntegrityVerified
	StateOwnershipVerified
	StateRecoverySnapshotted
	StateOverwritten
	StateSanitized
	StateReopened
	StateLicenseRestored
	StateDone
	StateRolledBack
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                "idle",
	StateLocated:             "located",
	StateClassified:          "classified",
	StateDecrypted:           "decrypted",
	StateIntegrityVerified:   "integrity-verified",
	StateOwnershipVerified:   "ownership-verified",
	StateRecoverySnapshotted: "recovery-snapshotted",
	StateOverwritten:         "overwritten",
	StateSanitized:           "sanitized",
	StateReopened:            "reopened",
	StateLicenseRestored:     "license-restored",
	StateDone:                "done",
	StateRolledBack:          "rolled-back",
	StateFailed:              "failed",
}

func (s RestoreState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
