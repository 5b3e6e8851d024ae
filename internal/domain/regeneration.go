package domain

import "time"

// ArtifactType enumerates artifacts that support free regenerations.
type ArtifactType string

const (
	ArtifactAudio  ArtifactType = "audio"
	ArtifactScript ArtifactType = "script"
)

var freeRegenerations = map[ArtifactType]int{
	ArtifactAudio:  2,
	ArtifactScript: 3,
}

// FreeLimit returns the number of free regenerations for t.
func (t ArtifactType) FreeLimit() (int, bool) {
	n, ok := freeRegenerations[t]
	return n, ok
}

// RegenerationCounter counts regenerations consumed for one parent artifact.
type RegenerationCounter struct {
	ArtifactID   string       `json:"artifact_id"`
	ArtifactType ArtifactType `json:"artifact_type"`
	Used         int          `json:"used"`
	FreeLimit    int          `json:"free_limit"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Remaining returns the free regenerations still available.
func (c RegenerationCounter) Remaining() int {
	if c.Used >= c.FreeLimit {
		return 0
	}
	return c.FreeLimit - c.Used
}
