package models

import "time"

// TypeRecord is one curated lesion class: the join key between ML class
// labels and the informational content shown to the user. Name is unique
// across the store.
type TypeRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Treatment   []string  `json:"treatment"`
	NextSteps   []string  `json:"next_steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TypeRecordUpdate carries a partial update; nil fields are left unchanged.
type TypeRecordUpdate struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Treatment   *[]string `json:"treatment"`
	NextSteps   *[]string `json:"next_steps"`
}

// PredictionResult is the normalized response of one inference call.
// Ephemeral: attached to a session entry, never persisted.
type PredictionResult struct {
	PredictedClass string             `json:"predicted_class"`
	Confidence     float64            `json:"confidence"`
	Probabilities  map[string]float64 `json:"probabilities"`
}

// NoInformationAvailable is the marker stored in place of curated content
// when the predicted class has no TypeRecord. Rendering treats it and empty
// lists identically.
const NoInformationAvailable = "No information available"

// LesionInfo is the curated content attached to a prediction, either from a
// TypeRecord or the explicit no-information marker.
type LesionInfo struct {
	CancerType  string   `json:"cancerType"`
	Description string   `json:"description"`
	Treatment   []string `json:"treatment"`
	NextSteps   []string `json:"next_steps"`
}

// NoInfo returns the marker content for a class with no curated record.
func NoInfo(predictedClass string) LesionInfo {
	return LesionInfo{
		CancerType:  predictedClass,
		Description: NoInformationAvailable,
		Treatment:   []string{},
		NextSteps:   []string{},
	}
}

// AnalysisResult pairs a prediction with its looked-up content.
type AnalysisResult struct {
	Prediction PredictionResult `json:"prediction"`
	Details    LesionInfo       `json:"details"`
}

// AnalysisEntry is one user image plus its optional result. Identity is the
// position within the session; Result stays nil until analysis succeeds.
type AnalysisEntry struct {
	Image       []byte
	ContentType string
	Filename    string
	Result      *AnalysisResult
}

// BulkLoadReport summarizes a best-effort batch insert: records that failed
// (typically duplicate names on repeated loads) are skipped, not fatal.
type BulkLoadReport struct {
	Inserted int      `json:"inserted"`
	Skipped  []string `json:"skipped"`
}
