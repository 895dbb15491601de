package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/paycollect/internal/config"
	"github.com/susu3304/paycollect/internal/db"
	"github.com/susu3304/paycollect/internal/roster"
)

type fakeRoster struct {
	snap *roster.Snapshot
	err  error
}

func (f *fakeRoster) Get(context.Context) (*roster.Snapshot, error) { return f.snap, f.err }

type fakeAssignments struct {
	list []db.Assignment
}

func (f *fakeAssignments) ListAssignments(context.Context) ([]db.Assignment, error) {
	return f.list, nil
}

func (f *fakeAssignments) GetAssignment(_ context.Context, key string) (*db.Assignment, error) {
	for i := range f.list {
		if f.list[i].ParticipantKey == key {
			return &f.list[i], nil
		}
	}
	return nil, db.ErrNotFound
}

type fakeSync struct {
	calls int
	err   error
}

func (f *fakeSync) Status() roster.Status {
	return roster.Status{State: "sleeping", ConsecutiveFailures: f.calls}
}

func (f *fakeSync) SyncOnce(context.Context) (bool, error) {
	f.calls++
	return f.err == nil, f.err
}

type fixture struct {
	api    *API
	roster *fakeRoster
	sync   *fakeSync
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now()
	cfg := &config.Config{
		JWTSecret:   "test-secret",
		OperatorIDs: []string{"op-1"},
		WebBind:     "127.0.0.1:0",
	}
	f := &fixture{
		roster: &fakeRoster{snap: &roster.Snapshot{
			TotalParticipants: 3,
			TotalAmount:       600,
			ParticipantIDs:    []string{"alice", "bob", "carol"},
			PaidIDs:           []string{"bob"},
		}},
		sync: &fakeSync{},
	}
	assignments := &fakeAssignments{list: []db.Assignment{
		{ParticipantKey: "1", DisplayName: "alice", Position: 0, RosterSize: 3, AmountDue: 343, CreatedAt: now},
		{ParticipantKey: "2", DisplayName: "bob", Position: 1, RosterSize: 3, AmountDue: 171, CreatedAt: now, SubmittedAt: &now},
	}}
	f.api = New(cfg, f.roster, assignments, f.sync)
	return f
}

func (f *fixture) do(t *testing.T, method, path, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		token, err := f.api.issueToken(userID, "tester", time.Now())
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/roster", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/roster", "someone-else")
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/roster", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_RejectsExpiredAndForeignTokens(t *testing.T) {
	f := newFixture(t)

	expired, err := f.api.issueToken("op-1", "tester", time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: "op-1"})
	foreignStr, err := foreign.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	for _, token := range []string{expired, foreignStr} {
		req := httptest.NewRequest(http.MethodGet, "/api/roster", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		f.api.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestRoster(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/roster", "op-1")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		TotalParticipants int      `json:"total_participants"`
		TotalAmount       int64    `json:"total_amount"`
		Unpaid            []string `json:"unpaid_ids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.TotalParticipants)
	assert.Equal(t, int64(600), body.TotalAmount)
	assert.Equal(t, []string{"alice", "carol"}, body.Unpaid)
}

func TestRoster_Unavailable(t *testing.T) {
	f := newFixture(t)
	f.roster.snap = nil
	f.roster.err = roster.ErrUnavailable

	w := f.do(t, http.MethodGet, "/api/roster", "op-1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAssignments(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path string
		keys []string
	}{
		{path: "/api/assignments", keys: []string{"1", "2"}},
		{path: "/api/assignments?submitted=true", keys: []string{"2"}},
		{path: "/api/assignments?submitted=false", keys: []string{"1"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tt.path, "op-1")
			require.Equal(t, http.StatusOK, w.Code)

			var list []db.Assignment
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
			keys := make([]string, 0, len(list))
			for _, a := range list {
				keys = append(keys, a.ParticipantKey)
			}
			assert.Equal(t, tt.keys, keys)
		})
	}
}

func TestGetAssignment(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/assignments/1", "op-1")
	require.Equal(t, http.StatusOK, w.Code)
	var a db.Assignment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, "alice", a.DisplayName)
	assert.Equal(t, int64(343), a.AmountDue)

	w = f.do(t, http.MethodGet, "/api/assignments/404", "op-1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSync(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/sync", "op-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"sleeping"`)

	w = f.do(t, http.MethodPost, "/api/sync", "op-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"changed":true`)
	assert.Equal(t, 1, f.sync.calls)

	f.sync.err = errors.New("sheets: 503")
	w = f.do(t, http.MethodPost, "/api/sync", "op-1")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "sheets: 503")
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/auth/login", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body["state"], 32)
	assert.Contains(t, body["auth_url"], "discord.com/api/oauth2/authorize")
	assert.Contains(t, body["auth_url"], body["state"])
}

func TestGetDiscordUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"42","username":"alice","global_name":"Alice A"}`))
	}))
	defer srv.Close()

	orig := discordUserURL
	discordUserURL = srv.URL
	defer func() { discordUserURL = orig }()

	user, err := getDiscordUser(context.Background(), srv.Client())
	require.NoError(t, err)
	assert.Equal(t, "42", user.ID)
	assert.Equal(t, "Alice A", getUsername(user))
}

func TestClaimsFrom(t *testing.T) {
	f := newFixture(t)
	var got *Claims
	h := f.api.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFrom(r.Context())
	}))

	token, err := f.api.issueToken("op-1", "tester", time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "op-1", got.UserID)
	assert.Equal(t, "tester", got.Username)

	_, ok := ClaimsFrom(context.Background())
	assert.False(t, ok)
}
