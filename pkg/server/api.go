package server

import (
	"log/slog"
	"net/http"

	"github.com/hubbridge/hubbridge/pkg/log"
	"github.com/hubbridge/hubbridge/pkg/riot"
	"github.com/hubbridge/hubbridge/pkg/types"
)

// handleLogin validates credentials on both sides, persists them and kicks
// the controller so the next cycle uses them immediately.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if body.Email == "" || body.Password == "" {
		writeJSONError(w, "invalid email or password", http.StatusInternalServerError)
		return
	}

	// the hub token first: until the user approves the bridge in the hub
	// dashboard there is no point storing anything
	hubToken, err := s.hub.AcquireToken(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to acquire hub token", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := s.portal.Login(ctx, body.Email, body.Password); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "portal login failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.storage.SetSettings(ctx, types.Settings{
		Email:            body.Email,
		Password:         body.Password,
		IHostAccessToken: hubToken,
	})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// break the running cycle so it reconnects with the new credentials
	s.controller.Restart()

	writeJSON(w, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

type statusResponse struct {
	LoggedIn          bool                   `json:"loggedIn"`
	IHostURL          string                 `json:"ihostURL"`
	User              *riot.Session          `json:"user,omitempty"`
	Keys              map[string]interface{} `json:"keys"`
	KeysLastUpdatedAt int64                  `json:"keysLastUpdatedAt"`
}

// handleStatus reports the persisted login state and the live snapshot. When
// not logged in it answers from storage alone.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := s.storage.GetSettings(ctx)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !settings.LoggedIn() {
		writeJSON(w, statusResponse{
			LoggedIn: false,
			IHostURL: s.hub.BaseURL(),
		})
		return
	}

	status := s.controller.Status()
	resp := statusResponse{
		LoggedIn: true,
		IHostURL: s.hub.BaseURL(),
		Keys:     status.Keys,
	}
	if resp.Keys == nil {
		resp.Keys = map[string]interface{}{}
	}
	if !status.KeysLastUpdatedAt.IsZero() {
		resp.KeysLastUpdatedAt = status.KeysLastUpdatedAt.UnixMilli()
	}
	if status.AccessToken != "" {
		sess, err := riot.DecodeAccessToken(status.AccessToken)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode access token", slog.Any("error", err))
		} else {
			// never echo the token back to the browser
			sess.AccessToken = ""
			resp.User = &sess
		}
	}
	writeJSON(w, resp)
}
