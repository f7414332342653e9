package constants

const (
	// DateFormat is the standard date format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// TimeFormat is the clock format used in watch output (HH:MM:SS)
	TimeFormat = "15:04:05"

	// TimestampLayout is the fixed-width UTC layout used for every stored timestamp.
	// Fixed width keeps lexical order equal to chronological order in every backend.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)
