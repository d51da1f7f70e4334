package domain

import "time"

// UserProfile is the logged-in traveller, cached locally between runs.
type UserProfile struct {
	UserID       string            `json:"userId"`
	DisplayName  string            `json:"displayName,omitempty"`
	ProfileID    string            `json:"profileId,omitempty"`
	Completeness float64           `json:"completeness,omitempty"`
	Preferences  map[string]string `json:"preferences,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}
