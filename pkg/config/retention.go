package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// RunRetentionDays is how many days to keep finished runs before
	// soft-deleting them (setting deleted_at).
	RunRetentionDays int `yaml:"run_retention_days"`

	// EventTTL is the maximum age of Event rows before deletion.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RunRetentionDays: 30,
		EventTTL:         1 * time.Hour,
		CleanupInterval:  1 * time.Hour,
	}
}
