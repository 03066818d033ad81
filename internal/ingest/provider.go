// Package ingest holds what import providers have in common.
package ingest

// Result holds the outcome of a logged-volume import.
type Result struct {
	SessionsReceived int      `json:"sessions_received"`
	SetsReceived     int      `json:"sets_received"`
	ExercisesMatched int      `json:"exercises_matched"`
	Unmatched        []string `json:"unmatched,omitempty"`
	VolumeEvents     int      `json:"volume_events"`
	MusclesUpdated   int      `json:"muscles_updated"`

	Message string `json:"message,omitempty"`
}
