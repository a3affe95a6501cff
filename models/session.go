package models

// TokenPair is the computed credential pair handed to a client.
// It is never persisted.
type TokenPair struct {
	Access           string `json:"access"`
	Refresh          string `json:"refresh"`
	ExpiredAt        string `json:"expired_at"`        // ISO-8601 UTC, millisecond precision
	RefreshableUntil string `json:"refreshable_until"` // ISO-8601 UTC, millisecond precision
}

// SessionResult is returned by login and refresh
type SessionResult struct {
	Principal PrincipalSummary `json:"principal"`
	Token     TokenPair        `json:"token"`
}
