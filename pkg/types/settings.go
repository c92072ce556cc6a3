package types

// Settings represents the persisted bridge configuration. It is stored as a
// single JSON document and rewritten in full on every mutation.
type Settings struct {
	// Telemetry cloud credentials, supplied once via /api/login and re-used
	// on every cycle.
	Email    string `json:"email"`
	Password string `json:"password"`

	// Bearer token issued by the iHost bridge access_token endpoint.
	IHostAccessToken string `json:"ihostAccessToken"`
}

// LoggedIn reports whether every field needed to run a bridge cycle is
// present. No network validation happens here.
func (s Settings) LoggedIn() bool {
	return s.Email != "" && s.Password != "" && s.IHostAccessToken != ""
}
