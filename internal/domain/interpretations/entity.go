package interpretations

import "time"

// ID identifier type
type ID string

// Interpretation is a narrative reading of an analysis artifact, stored for auditing and retrieval.
type Interpretation struct {
	ID          ID        `json:"id"`
	RunID       string    `json:"run_id"`
	ArtifactURL string    `json:"artifact_url"`
	Model       string    `json:"model,omitempty"`
	Result      string    `json:"result"` // JSON object returned by the model
	CreatedAt   time.Time `json:"created_at"`
}
