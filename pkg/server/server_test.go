package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hubbridge/hubbridge/pkg/controller"
	"github.com/hubbridge/hubbridge/pkg/ihost"
	"github.com/hubbridge/hubbridge/pkg/riot"
	"github.com/hubbridge/hubbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestServer(db *mockStorage, p *mockPortal, h *mockHub, c *mockControl) *Server {
	return &Server{
		storage:    db,
		portal:     p,
		hub:        h,
		controller: c,
		serverName: "hubbridge",
	}
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.setupHandler().ServeHTTP(w, req)
	return w
}

// makeToken builds an unsigned JWT carrying the given claims.
func makeToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}

func TestHandleLogin(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		db := &mockStorage{}
		db.On("SetSettings", mock.Anything, types.Settings{
			Email:            "user@example.com",
			Password:         "secret",
			IHostAccessToken: "hub-token",
		}).Return(nil)
		p := &mockPortal{}
		p.On("Login", mock.Anything, "user@example.com", "secret").Return(riot.Session{UserID: "user-1"}, nil)
		h := &mockHub{}
		h.On("AcquireToken", mock.Anything).Return("hub-token", nil)
		c := &mockControl{}
		c.On("Restart").Return()

		s := newTestServer(db, p, h, c)
		w := doRequest(t, s, http.MethodPost, "/api/login", map[string]string{
			"email":    "user@example.com",
			"password": "secret",
		})
		require.Equal(t, http.StatusOK, w.Code)

		var res map[string]bool
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.True(t, res["ok"])

		db.AssertExpectations(t)
		p.AssertExpectations(t)
		h.AssertExpectations(t)
		c.AssertExpectations(t)
	})

	t.Run("Approval Pending", func(t *testing.T) {
		db := &mockStorage{}
		p := &mockPortal{}
		h := &mockHub{}
		h.On("AcquireToken", mock.Anything).Return("", ihost.ErrApprovalPending)
		c := &mockControl{}

		s := newTestServer(db, p, h, c)
		w := doRequest(t, s, http.MethodPost, "/api/login", map[string]string{
			"email":    "user@example.com",
			"password": "secret",
		})
		require.Equal(t, http.StatusInternalServerError, w.Code)

		var res map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Contains(t, res["error"], "approve")

		// nothing is persisted until the hub approves the bridge
		db.AssertNotCalled(t, "SetSettings")
		p.AssertNotCalled(t, "Login")
		c.AssertNotCalled(t, "Restart")
	})

	t.Run("Bad Credentials", func(t *testing.T) {
		db := &mockStorage{}
		p := &mockPortal{}
		p.On("Login", mock.Anything, "user@example.com", "wrong").Return(riot.Session{}, riot.ErrAuth)
		h := &mockHub{}
		h.On("AcquireToken", mock.Anything).Return("hub-token", nil)
		c := &mockControl{}

		s := newTestServer(db, p, h, c)
		w := doRequest(t, s, http.MethodPost, "/api/login", map[string]string{
			"email":    "user@example.com",
			"password": "wrong",
		})
		require.Equal(t, http.StatusInternalServerError, w.Code)
		db.AssertNotCalled(t, "SetSettings")
		c.AssertNotCalled(t, "Restart")
	})

	t.Run("Missing Fields", func(t *testing.T) {
		db := &mockStorage{}
		p := &mockPortal{}
		h := &mockHub{}
		c := &mockControl{}

		s := newTestServer(db, p, h, c)
		w := doRequest(t, s, http.MethodPost, "/api/login", map[string]string{"email": "user@example.com"})
		require.Equal(t, http.StatusInternalServerError, w.Code)
		h.AssertNotCalled(t, "AcquireToken")
	})
}

func TestHandleStatus(t *testing.T) {
	t.Run("Logged Out", func(t *testing.T) {
		db := &mockStorage{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{}, nil)
		h := &mockHub{}
		h.On("BaseURL").Return("http://ihost.local")
		c := &mockControl{}

		s := newTestServer(db, &mockPortal{}, h, c)
		w := doRequest(t, s, http.MethodPost, "/api/status", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var res statusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.False(t, res.LoggedIn)
		assert.Equal(t, "http://ihost.local", res.IHostURL)
		assert.Nil(t, res.User)

		// logged-out status answers from storage alone
		c.AssertNotCalled(t, "Status")
	})

	t.Run("Logged In", func(t *testing.T) {
		token := makeToken(t, map[string]interface{}{
			"userId":    "user-1",
			"firstName": "Jane",
		})
		lastUpdate := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

		db := &mockStorage{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{
			Email:            "user@example.com",
			Password:         "secret",
			IHostAccessToken: "hub-token",
		}, nil)
		h := &mockHub{}
		h.On("BaseURL").Return("http://ihost.local")
		c := &mockControl{}
		c.On("Status").Return(controller.Status{
			Keys:              map[string]interface{}{"Sys_SOC": "83"},
			KeysLastUpdatedAt: lastUpdate,
			AccessToken:       token,
		})

		s := newTestServer(db, &mockPortal{}, h, c)
		w := doRequest(t, s, http.MethodPost, "/api/status", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var res statusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.True(t, res.LoggedIn)
		assert.Equal(t, map[string]interface{}{"Sys_SOC": "83"}, res.Keys)
		assert.Equal(t, lastUpdate.UnixMilli(), res.KeysLastUpdatedAt)
		require.NotNil(t, res.User)
		assert.Equal(t, "user-1", res.User.UserID)
		assert.Equal(t, "Jane", res.User.FirstName)
		assert.Empty(t, res.User.AccessToken, "token must never be echoed")
	})

	t.Run("Logged In Before First Snapshot", func(t *testing.T) {
		db := &mockStorage{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{
			Email:            "user@example.com",
			Password:         "secret",
			IHostAccessToken: "hub-token",
		}, nil)
		h := &mockHub{}
		h.On("BaseURL").Return("http://ihost.local")
		c := &mockControl{}
		c.On("Status").Return(controller.Status{})

		s := newTestServer(db, &mockPortal{}, h, c)
		w := doRequest(t, s, http.MethodPost, "/api/status", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var res statusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.True(t, res.LoggedIn)
		assert.NotNil(t, res.Keys)
		assert.Empty(t, res.Keys)
		assert.Zero(t, res.KeysLastUpdatedAt)
		assert.Nil(t, res.User)
	})
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer(&mockStorage{}, &mockPortal{}, &mockHub{}, &mockControl{})
	w := doRequest(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hubbridge", w.Header().Get("Server"))
}
