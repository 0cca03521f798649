package models

import "time"

// UserProfile is one registered user. It is the source of truth for all
// profile data regardless of which backend persists it: the Postgres store
// serializes the whole struct into a JSONB column, the file store writes it
// into the users JSON file keyed by UserID.
type UserProfile struct {
	UserID    string `json:"userId"`
	GoogleID  string `json:"googleId"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl,omitempty"`

	OnboardingComplete bool `json:"onboardingComplete"`
	OnboardingStep     int  `json:"onboardingStep"`

	// Free-form profile attributes collected by the onboarding wizard.
	FirstName     string `json:"firstName,omitempty"`
	MiddleName    string `json:"middleName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	DateOfBirth   string `json:"dateOfBirth,omitempty"`
	Gender        string `json:"gender,omitempty"`
	Phone         string `json:"phone,omitempty"`
	AltPhone      string `json:"altPhone,omitempty"`
	Address       string `json:"address,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	Pincode       string `json:"pincode,omitempty"`
	Category      string `json:"category,omitempty"`
	Nationality   string `json:"nationality,omitempty"`
	MaritalStatus string `json:"maritalStatus,omitempty"`

	Professions []string                  `json:"professions"`
	Documents   map[string]DocumentRecord `json:"documents"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProfilePatch is a merge-patch over UserProfile. Pointer fields mean
// "present in the request body"; nil fields are left untouched.
//
// Documents and Professions are replaced wholesale when present: a patch
// carrying {documents: {a: X}} drops every other document key the profile
// had. Callers that want single-key semantics go through DocumentIntake,
// which merges the key into the full map before patching.
type ProfilePatch struct {
	Email     *string `json:"email,omitempty"`
	FullName  *string `json:"fullName,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`

	OnboardingComplete *bool `json:"onboardingComplete,omitempty"`
	OnboardingStep     *int  `json:"onboardingStep,omitempty"`

	FirstName     *string `json:"firstName,omitempty"`
	MiddleName    *string `json:"middleName,omitempty"`
	LastName      *string `json:"lastName,omitempty"`
	DateOfBirth   *string `json:"dateOfBirth,omitempty"`
	Gender        *string `json:"gender,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	AltPhone      *string `json:"altPhone,omitempty"`
	Address       *string `json:"address,omitempty"`
	City          *string `json:"city,omitempty"`
	State         *string `json:"state,omitempty"`
	Pincode       *string `json:"pincode,omitempty"`
	Category      *string `json:"category,omitempty"`
	Nationality   *string `json:"nationality,omitempty"`
	MaritalStatus *string `json:"maritalStatus,omitempty"`

	Professions []string                  `json:"professions,omitempty"`
	Documents   map[string]DocumentRecord `json:"documents,omitempty"`
}
