package history

import "time"

const SchemaVersion = 1

// Snapshot records the outcome of one project graph rebuild.
type Snapshot struct {
	ProjectKey       string        `json:"project_key"`
	SchemaVersion    int           `json:"schema_version"`
	Timestamp        time.Time     `json:"ts_utc"`
	StateVersion     int           `json:"state_version"`
	StructureVersion int           `json:"structure_version"`
	FileCount        int           `json:"file_count"`
	AddedCount       int           `json:"added_count"`
	RemovedCount     int           `json:"removed_count"`
	UpdatedCount     int           `json:"updated_count"`
	InvalidatedCount int           `json:"invalidated_count"`
	AllInvalidated   bool          `json:"all_invalidated"`
	Duration         time.Duration `json:"duration"`
}
