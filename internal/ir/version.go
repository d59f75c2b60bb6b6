package ir

const (
	// FormatVersion versions the entry hash layout and the bundle format together.
	FormatVersion = "1"

	// LedgerVersion is the auditchain release.
	LedgerVersion = "0.3.0"
)
