package sg

import "time"

// RecoveryKind distinguishes ordinary restores from crisis-mode restores.
type RecoveryKind string

const (
	KindBackupRestore    RecoveryKind = "backup_restore"
	KindEmergencyRestore RecoveryKind = "emergency_restore"
)

// Risk grades how much recent progress a restore would discard.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Rank orders risks from low (0) to high (2).
func (r Risk) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	default:
		return 2
	}
}

// RecoveryOption is a restore the user may choose. Options are computed on
// demand and never stored.
type RecoveryOption struct {
	ID             string
	SnapshotID     string
	Kind           RecoveryKind
	Description    string
	Timestamp      time.Time
	AffectedFiles  []string
	Risk           Risk
	Recommendation string
}

// ConfirmFunc is asked before a recovery proceeds. Returning false cancels.
type ConfirmFunc func(*RecoveryOption) bool

// RecoveryResult reports what a recovery did.
type RecoveryResult struct {
	OptionID         string
	SnapshotID       string
	Success          bool
	FilesRestored    []string
	SafetySnapshotID string

	// SafetyRestoreAttempted is set when the restore failed part way and the
	// safety snapshot was put back; SafetyRestored tells whether that worked.
	SafetyRestoreAttempted bool
	SafetyRestored         bool

	Warnings []string
	Error    string
}

// FileStatus classifies one copy of a file.
type FileStatus string

const (
	FileValid     FileStatus = "valid"
	FileCorrupted FileStatus = "corrupted"
	FileMissing   FileStatus = "missing"
)

// FileCandidate is one snapshot copy of a file.
type FileCandidate struct {
	SnapshotID    string
	Timestamp     time.Time
	OperationType string
	Description   string
	BackupPath    string
	SizeBytes     int64
	Status        FileStatus
	Detail        string
}

// FileRecoveryReport lists every known copy of one file, best first.
type FileRecoveryReport struct {
	Path            string
	CurrentStatus   FileStatus
	CurrentDetail   string
	Candidates      []FileCandidate
	Recommendations []string
}

// RecoveryReport summarizes the state of a user's backups.
type RecoveryReport struct {
	GeneratedAt     time.Time
	TotalSnapshots  int
	RecentSnapshots int
	Latest          *BackupMetadata
	Checked         int
	Intact          int
	Health          string
	Problems        map[string][]string
	Recommendations []string
}

// RecoveryCoordinator turns snapshots into ranked recovery options and
// carries them out.
type RecoveryCoordinator interface {
	ListOptions(crisis bool) ([]*RecoveryOption, error)
	Execute(optionID string, confirm ConfirmFunc) *RecoveryResult
	EmergencyFileRecovery(path string) (*FileRecoveryReport, error)
	Report() (*RecoveryReport, error)
}
