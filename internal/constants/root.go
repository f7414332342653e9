package constants

import "time"

// SessionState represents the active tab or overlay of the TUI application
type SessionState int

const (
	AppName            = "habitsync"
	DefaultKeyringUser = "database-connection"
	TokenKeyringUser   = "server-token"
	DefaultConfigPath  = "~/.config/habitsync/habitsync.db"
	Version            = "v0.3.0"

	// Document store layout
	DatabaseID             = "habitsync"
	HabitsCollection       = "habits"
	CompletionsCollection  = "completions"
	PostgresNotifyChannel  = "habitsync_changes"
	ServerDefaultAddr      = "127.0.0.1:8787"
	ServerTokenHeader      = "Authorization"
	ServerRealtimeEndpoint = "/v1/realtime"

	// Document field names
	FieldUserID          = "user_id"
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldFrequency       = "frequency"
	FieldStreakCount     = "streak_count"
	FieldLastCompletedAt = "last_completed_at"
	FieldCreatedAt       = "created_at"
	FieldHabitID         = "habit_id"
	FieldCompletedAt     = "completed_at"

	// Change feed
	ChangeQueueSize           = 64
	SubscriberBufferSize      = 128
	SQLitePollInterval        = 500 * time.Millisecond
	ResubscribeInitialBackoff = 250 * time.Millisecond
	ResubscribeMaxBackoff     = 30 * time.Second
	DefaultCommandTimeout     = 10 * time.Second
	ResyncTimeout             = 5 * time.Second

	// Notify constants
	NotifierLockfileName   = "habitsync-notifier.lock"
	NotificationDurationMs = 5000
	TrayAppIdentifier      = "com.julianstephens.habitsync"
	TrayAppExecutable      = "habitsync-tray"
)

// Session States
const (
	StateToday SessionState = iota
	StateStreaks
	StateAddHabit
	StateConfirmDelete
)
