package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/idan55/makeamitsva-backend/internal/auth"
	"github.com/idan55/makeamitsva-backend/internal/favors/domain"
	"github.com/idan55/makeamitsva-backend/internal/favors/repository"
	"github.com/idan55/makeamitsva-backend/internal/favors/service"
	"github.com/idan55/makeamitsva-backend/internal/logging"
	"github.com/idan55/makeamitsva-backend/internal/rewards"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticDirectory struct{}

func (staticDirectory) Summaries(_ context.Context, ids []string) (map[string]domain.UserSummary, error) {
	out := make(map[string]domain.UserSummary, len(ids))
	for _, id := range ids {
		out[id] = domain.UserSummary{ID: id, Name: "user " + id}
	}
	return out, nil
}

type countingLedger struct{ grants int }

func (l *countingLedger) Grant(context.Context, rewards.Grant) rewards.Result {
	l.grants++
	return rewards.Result{Outcome: rewards.OutcomeGranted}
}

// fakeIdentity stands in for HeaderIdentity + WithUser: X-User-Id is our user id.
func fakeIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader("X-User-Id")
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}
		c.Set(auth.CtxUserID, uid)
		c.Next()
	}
}

func setupRouter(t *testing.T) (*gin.Engine, *countingLedger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	ledger := &countingLedger{}
	log := logging.Component(logging.Discard(), "favors")
	svc := service.NewRequestService(repository.NewRequestRepository(client), staticDirectory{}, ledger, log, service.Options{})

	h := New(svc, log)
	h.keepAlive = 50 * time.Millisecond

	r := gin.New()
	api := r.Group("/api/v1")
	h.RegisterPublic(api)
	authed := api.Group("")
	authed.Use(fakeIdentity())
	h.Register(authed)
	return r, ledger
}

func do(r http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Message  string            `json:"message"`
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Request  map[string]any    `json:"request"`
	Requests []json.RawMessage `json:"requests"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

const createBody = `{"title":"groceries","description":"carry bags upstairs","longitude":34.78,"latitude":32.08}`

func createRequest(t *testing.T, r http.Handler, user string) string {
	t.Helper()
	w := do(r, http.MethodPost, "/api/v1/requests", user, createBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decode(t, w).Request["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestCreateRequest(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/api/v1/requests", "u1", createBody)
	require.Equal(t, http.StatusCreated, w.Code)
	env := decode(t, w)
	assert.Equal(t, "Request created successfully", env.Message)
	assert.Equal(t, "u1", env.Request["createdBy"])
	assert.Equal(t, "normal", env.Request["urgency"])
	assert.Equal(t, false, env.Request["isCompleted"])

	loc, _ := env.Request["location"].(map[string]any)
	assert.Equal(t, "Point", loc["type"])
	assert.Equal(t, []any{34.78, 32.08}, loc["coordinates"])
}

func TestCreateRequest_Rejections(t *testing.T) {
	r, _ := setupRouter(t)

	cases := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{"no identity", "", createBody, http.StatusUnauthorized},
		{"malformed json", "u1", `{"title":`, http.StatusBadRequest},
		{"missing location", "u1", `{"title":"a","description":"b"}`, http.StatusBadRequest},
		{"title too long", "u1", `{"title":"eleven char","description":"b","longitude":1,"latitude":1}`, http.StatusBadRequest},
		{"latitude out of range", "u1", `{"title":"a","description":"b","longitude":1,"latitude":91}`, http.StatusBadRequest},
		{"unknown urgency", "u1", `{"title":"a","description":"b","urgency":"asap","longitude":1,"latitude":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/requests", tc.user, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.status == http.StatusBadRequest {
				assert.Equal(t, "validation_error", decode(t, w).Code)
			}
		})
	}
}

func TestDiscoverNearby(t *testing.T) {
	r, _ := setupRouter(t)
	id := createRequest(t, r, "u1")

	w := do(r, http.MethodGet, "/api/v1/requests/nearby?longitude=34.78&latitude=32.08&distanceInMeters=500", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decode(t, w)
	require.Len(t, env.Requests, 1)

	var hit map[string]any
	require.NoError(t, json.Unmarshal(env.Requests[0], &hit))
	assert.Equal(t, id, hit["id"])
	assert.Contains(t, hit, "distance")

	w = do(r, http.MethodGet, "/api/v1/requests/nearby?longitude=0&latitude=0&distanceInMeters=500", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(string(mustField(t, w, "requests"))))
}

func TestDiscoverNearby_BadQuery(t *testing.T) {
	r, _ := setupRouter(t)

	for _, q := range []string{
		"latitude=32&distanceInMeters=10",
		"longitude=abc&latitude=32&distanceInMeters=10",
		"longitude=34&latitude=32&distanceInMeters=-5",
		"longitude=NaN&latitude=32.08&distanceInMeters=1000",
		"longitude=34.78&latitude=Inf&distanceInMeters=1000",
		"longitude=34.78&latitude=32.08&distanceInMeters=NaN",
	} {
		w := do(r, http.MethodGet, "/api/v1/requests/nearby?"+q, "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestClaimAndConfirmFlow(t *testing.T) {
	r, ledger := setupRouter(t)
	id := createRequest(t, r, "seeker")

	w := do(r, http.MethodPatch, "/api/v1/requests/"+id+"/help", "seeker", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "self_help", decode(t, w).Code)

	w = do(r, http.MethodPatch, "/api/v1/requests/"+id+"/complete", "seeker", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_helper_assigned", decode(t, w).Code)

	w = do(r, http.MethodPatch, "/api/v1/requests/"+id+"/help", "helper", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decode(t, w)
	assert.Equal(t, "You are now marked as the helper for this request", env.Message)
	assert.Equal(t, "CLAIMED", env.Request["state"])

	w = do(r, http.MethodPatch, "/api/v1/requests/"+id+"/help", "intruder", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPatch, "/api/v1/requests/"+id+"/complete", "helper", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPatch, "/api/v1/requests/"+id+"/complete", "seeker", "")
	require.Equal(t, http.StatusOK, w.Code)
	env = decode(t, w)
	assert.Equal(t, "Request marked as completed", env.Message)
	assert.Equal(t, "CLOSED", env.Request["state"])
	assert.Equal(t, 1, ledger.grants)

	w = do(r, http.MethodPatch, "/api/v1/requests/"+id+"/complete", "seeker", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ledger.grants)

	w = do(r, http.MethodGet, "/api/v1/requests/i-solved", "helper", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w).Requests, 1)

	w = do(r, http.MethodGet, "/api/v1/requests/my-completed", "seeker", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w).Requests, 1)

	w = do(r, http.MethodGet, "/api/v1/requests/my-open", "seeker", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w).Requests)
}

func TestGetRequest_NotFound(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodGet, "/api/v1/requests/does-not-exist", "u1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w).Code)

	w = do(r, http.MethodPatch, "/api/v1/requests/does-not-exist/help", "u1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamRequestEvents(t *testing.T) {
	r, _ := setupRouter(t)
	id := createRequest(t, r, "seeker")

	w := do(r, http.MethodGet, "/api/v1/requests/"+id+"/events", "stranger", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/requests/"+id+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-Id", "seeker")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q", prefix)
		return ""
	}

	waitFor("event: initial")

	w = do(r, http.MethodPatch, "/api/v1/requests/"+id+"/help", "helper", "")
	require.Equal(t, http.StatusOK, w.Code)

	waitFor("event: update")
	data := waitFor("data: ")
	assert.Contains(t, data, `"completedBy":"helper"`)

	waitFor(": keep-alive")
}

func mustField(t *testing.T, w *httptest.ResponseRecorder, name string) json.RawMessage {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	return raw[name]
}
