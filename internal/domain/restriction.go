package domain

// Restriction forbids shipping a category to a state.
type Restriction struct {
	CategoryID string `json:"category_id"`
	State      string `json:"state"`
	Message    string `json:"message,omitempty"`
}

// RestrictionResult is the outcome of a restriction check.
type RestrictionResult struct {
	IsRestricted         bool          `json:"is_restricted"`
	RestrictedCategories []Restriction `json:"restricted_categories,omitempty"`
}
