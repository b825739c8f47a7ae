package models

import "time"

// MiscFeatureName is the reserved default feature. It always exists and
// cannot be deleted.
const MiscFeatureName = "misc"

const MaxFeatureNameLength = 55

type Feature struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Specification string    `json:"specification"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
