package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
)

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := New(testConfig(), store.NewMemoryStore(), session.NewRedisStoreWithClient(client), nil, zap.NewNop())
	require.NoError(t, svc.Bootstrap(context.Background()))

	server := httptest.NewServer(NewHTTPServer(svc, "*", zap.NewNop()).Handler())
	t.Cleanup(server.Close)
	return testServer{server}
}

func (ts testServer) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func (ts testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	resp, body := ts.request(t, http.MethodPost, "/api/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestPreflightRequest(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/projects", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PUT")

	buf := make([]byte, 1)
	n, _ := resp.Body.Read(buf)
	assert.Zero(t, n, "preflight response carries no body")
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	resp, body = ts.request(t, http.MethodGet, "/api/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
}

func TestAuthRequiredForBoardRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodGet, "/api/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	resp, _ = ts.request(t, http.MethodGet, "/api/projects", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginAndLogout(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodPost, "/api/login", "", map[string]string{
		"username": "admin", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])

	token := ts.login(t, "admin", "admin123")

	resp, body = ts.request(t, http.MethodGet, "/api/session", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "admin", body["username"])

	resp, _ = ts.request(t, http.MethodPost, "/api/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, "/api/projects", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProjectLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "admin", "admin123")

	resp, body := ts.request(t, http.MethodPost, "/api/projects", token, map[string]string{
		"name": "Payments", "description": "Billing rework",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	projectID, _ := body["id"].(string)
	require.NotEmpty(t, projectID)
	assert.Equal(t, "Analyzing", body["status"])
	assert.Len(t, body["columns"], 3)

	resp, body = ts.request(t, http.MethodPut, "/api/projects/"+projectID, token, map[string]any{
		"name": "Payments v2", "status": "Developing",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Payments v2", body["name"])
	assert.Equal(t, "Developing", body["status"])
	assert.Equal(t, float64(1), body["version"])

	resp, body = ts.request(t, http.MethodPut, "/api/projects/"+projectID, token, map[string]any{
		"status": "NotAStatus",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", body["code"])

	resp, _ = ts.request(t, http.MethodDelete, "/api/projects/"+projectID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodPut, "/api/projects/"+projectID, token, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectVisibilityPerMember(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "admin", "admin123")
	outsider := ts.login(t, "user2", "user123")

	resp, body := ts.request(t, http.MethodPost, "/api/projects", admin, map[string]string{"name": "Secret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	projectID := body["id"].(string)

	_, body = ts.request(t, http.MethodGet, "/api/projects", outsider, nil)
	for _, raw := range body["projects"].([]any) {
		project := raw.(map[string]any)
		assert.NotEqual(t, projectID, project["id"])
	}

	resp, body = ts.request(t, http.MethodPut, "/api/projects/"+projectID, outsider, map[string]any{"name": "Hijack"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", body["code"])
}

func TestColumnReplaceRenormalizesOrders(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "admin", "admin123")

	resp, body := ts.request(t, http.MethodPost, "/api/projects", token, map[string]string{"name": "Board"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	projectID := body["id"].(string)

	resp, body = ts.request(t, http.MethodPut, "/api/projects/"+projectID+"/columns", token, map[string]any{
		"columns": []map[string]any{
			{"id": "done", "name": "Done", "order": 0},
			{"id": "todo", "name": "Backlog", "order": 5},
			{"name": "Review", "order": 99},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	columns := body["columns"].([]any)
	require.Len(t, columns, 3)
	for i, raw := range columns {
		col := raw.(map[string]any)
		assert.Equal(t, float64(i), col["order"])
	}
	assert.Equal(t, "Done", columns[0].(map[string]any)["name"])
	assert.Equal(t, "Backlog", columns[1].(map[string]any)["name"])
	assert.Equal(t, "Review", columns[2].(map[string]any)["name"])
}

func TestColumnRemovalBlockedWhenOccupied(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "admin", "admin123")

	resp, body := ts.request(t, http.MethodPost, "/api/projects", token, map[string]string{"name": "Board"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	projectID := body["id"].(string)

	resp, _ = ts.request(t, http.MethodPost, "/api/projects/"+projectID+"/activities", token, map[string]string{
		"title": "Occupies done", "column": "done",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = ts.request(t, http.MethodPut, "/api/projects/"+projectID+"/columns", token, map[string]any{
		"columns": []map[string]any{
			{"id": "todo", "name": "To Do", "order": 0},
			{"id": "progress", "name": "In Progress", "order": 1},
		},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", body["code"])
}

func TestActivityLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "admin", "admin123")

	resp, body := ts.request(t, http.MethodPost, "/api/projects", token, map[string]string{"name": "Board"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	projectID := body["id"].(string)

	resp, body = ts.request(t, http.MethodPost, "/api/projects/"+projectID+"/activities", token, map[string]string{
		"title": "First task",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	activityID := body["id"].(string)
	assert.Equal(t, "todo", body["column"])
	assert.Equal(t, float64(0), body["order"])

	resp, body = ts.request(t, http.MethodPost, "/api/projects/"+projectID+"/activities", token, map[string]string{"title": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	resp, body = ts.request(t, http.MethodPut, "/api/activities/"+activityID, token, map[string]any{
		"title": "First task, refined", "column": "progress",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "progress", body["column"])

	resp, body = ts.request(t, http.MethodPut, "/api/activities/"+activityID, token, map[string]any{"column": "missing"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", body["code"])

	resp, body = ts.request(t, http.MethodGet, "/api/projects/"+projectID+"/activities", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["activities"], 1)

	resp, _ = ts.request(t, http.MethodDelete, "/api/activities/"+activityID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodDelete, "/api/activities/"+activityID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDevelopmentClaimConflict(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "admin", "admin123")
	other := ts.login(t, "user1", "user123")

	resp, body := ts.request(t, http.MethodPost, "/api/projects", admin, map[string]string{"name": "Board"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	projectID := body["id"].(string)

	resp, body = ts.request(t, http.MethodPost, "/api/projects/"+projectID+"/activities", admin, map[string]string{"title": "Task"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	activityID := body["id"].(string)

	devPath := fmt.Sprintf("/api/activities/%s/development", activityID)

	resp, body = ts.request(t, http.MethodPut, devPath, admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["developmentBy"])

	resp, body = ts.request(t, http.MethodPut, devPath, other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "CLAIM_HELD", body["code"])

	resp, body = ts.request(t, http.MethodPut, devPath, admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["developmentBy"])

	resp, _ = ts.request(t, http.MethodPut, devPath, other, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUsersEndpointHidesPasswordHashes(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "admin", "admin123")

	resp, body := ts.request(t, http.MethodGet, "/api/users", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := body["users"].([]any)
	require.Len(t, users, 3)
	for _, raw := range users {
		user := raw.(map[string]any)
		assert.NotContains(t, user, "passwordHash")
		assert.NotContains(t, user, "password_hash")
	}
}
