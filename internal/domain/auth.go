package domain

// Caller is the authenticated principal behind a Supabase access token.
type Caller struct {
	UserID string `json:"sub"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}
