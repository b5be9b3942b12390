package handlers_test

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap/zaptest"

	"treasure-map/server/internal/api/gateway"
	progHandlers "treasure-map/server/internal/services/progress/handlers"
	"treasure-map/server/internal/testutils"
)

func createFullTestServer(t *testing.T, dbConn *sql.DB) *fiber.App {
	t.Helper()
	gw := gateway.NewAPIGateway(testutils.GetTestConfig(), zaptest.NewLogger(t), dbConn, testutils.TestRegistry(t))
	return gw.Router()
}

func doRequest(t *testing.T, app *fiber.App, method, path, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func questStatus(resp progHandlers.ProgressResponse, id string) string {
	for _, q := range resp.Quests {
		if q.QuestID == id {
			return string(q.Status)
		}
	}
	return ""
}

func TestGetCatalog(t *testing.T) {
	app := createFullTestServer(t, testutils.SetupTestDB(t))

	resp := doRequest(t, app, http.MethodGet, "/quests", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var catalog progHandlers.CatalogResponse
	decode(t, resp, &catalog)

	if len(catalog.Quests) != 4 {
		t.Fatalf("Expected 4 quests, got %d", len(catalog.Quests))
	}
	if catalog.Quests[0].ID != "start" || catalog.Quests[3].ID != "final" {
		t.Errorf("Quests not in declaration order: %s ... %s", catalog.Quests[0].ID, catalog.Quests[3].ID)
	}
	if len(catalog.Rewards) != 4 {
		t.Errorf("Expected 4 rewards, got %d", len(catalog.Rewards))
	}
}

func TestGetProgress(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	app := createFullTestServer(t, dbConn)
	sessionID, token := testutils.CreateTestSession(t, dbConn)

	t.Run("fresh session", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/progress", token, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		var progress progHandlers.ProgressResponse
		decode(t, resp, &progress)

		if progress.SessionID != sessionID {
			t.Errorf("Expected session %s, got %s", sessionID, progress.SessionID)
		}
		if progress.Version != 0 || progress.Points != 0 || len(progress.Rewards) != 0 {
			t.Errorf("Unexpected fresh progress: %+v", progress)
		}
		want := map[string]string{"start": "available", "quiz": "locked", "runner": "locked", "final": "locked"}
		for id, status := range want {
			if got := questStatus(progress, id); got != status {
				t.Errorf("quest %s: expected %s, got %s", id, status, got)
			}
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/progress", "", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", resp.StatusCode)
		}
	})
}

func TestQuestLifecycle(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	app := createFullTestServer(t, dbConn)
	_, token := testutils.CreateTestSession(t, dbConn)

	resp := doRequest(t, app, http.MethodPost, "/progress/quests/start/start", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: expected status 200, got %d", resp.StatusCode)
	}
	var started progHandlers.ChangeResponse
	decode(t, resp, &started)
	if started.Change != "quest_started" || started.Status != "in_progress" || started.Version != 1 {
		t.Errorf("Unexpected start response: %+v", started)
	}

	t.Run("failing payload changes nothing", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodPost, "/progress/quests/start/complete", token, `{"flags":{"go":false}}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		var change progHandlers.ChangeResponse
		decode(t, resp, &change)
		if change.Passed || change.Change != "none" || change.Status != "in_progress" {
			t.Errorf("Unexpected response: %+v", change)
		}
	})

	t.Run("passing payload unlocks dependents", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodPost, "/progress/quests/start/complete", token, `{"flags":{"go":true}}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		var change progHandlers.ChangeResponse
		decode(t, resp, &change)
		if !change.Passed || change.Change != "quest_completed" || change.Status != "completed" {
			t.Errorf("Unexpected response: %+v", change)
		}
		if strings.Join(change.Unlocked, ",") != "quiz,runner" {
			t.Errorf("Expected quiz,runner unlocked, got %v", change.Unlocked)
		}
		if strings.Join(change.Granted, ",") != "badge_start" {
			t.Errorf("Expected badge_start granted, got %v", change.Granted)
		}
		if change.PointsAwarded != 10 || change.Points != 10 {
			t.Errorf("Expected 10 points, got awarded=%d total=%d", change.PointsAwarded, change.Points)
		}
	})

	t.Run("start completed quest conflicts", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodPost, "/progress/quests/start/start", token, "")
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Expected status 409, got %d", resp.StatusCode)
		}
	})

	t.Run("start locked quest conflicts", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodPost, "/progress/quests/final/start", token, "")
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Expected status 409, got %d", resp.StatusCode)
		}
	})

	t.Run("complete without start conflicts", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodPost, "/progress/quests/quiz/complete", token, `{"score":9,"max_score":10}`)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Expected status 409, got %d", resp.StatusCode)
		}
	})

	t.Run("unknown quest", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodPost, "/progress/quests/kraken/start", token, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", resp.StatusCode)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		doRequest(t, app, http.MethodPost, "/progress/quests/quiz/start", token, "").Body.Close()
		resp := doRequest(t, app, http.MethodPost, "/progress/quests/quiz/complete", token, `{"score":`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("negative score", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodPost, "/progress/quests/quiz/complete", token, `{"score":-1,"max_score":10}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("score above max", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodPost, "/progress/quests/quiz/complete", token, `{"score":11,"max_score":10}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("progress reflects changes", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/progress", token, "")
		var progress progHandlers.ProgressResponse
		decode(t, resp, &progress)
		if progress.Points != 10 {
			t.Errorf("Expected 10 points, got %d", progress.Points)
		}
		if questStatus(progress, "start") != "completed" || questStatus(progress, "quiz") != "in_progress" {
			t.Errorf("Unexpected statuses: %+v", progress.Quests)
		}
	})
}

func TestListEvents(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	app := createFullTestServer(t, dbConn)
	_, token := testutils.CreateTestSession(t, dbConn)

	doRequest(t, app, http.MethodPost, "/progress/quests/start/start", token, "").Body.Close()
	doRequest(t, app, http.MethodPost, "/progress/quests/start/complete", token, `{"flags":{"go":true}}`).Body.Close()

	t.Run("newest first", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/progress/events", token, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		var body struct {
			Events []progHandlers.EventResponse `json:"events"`
		}
		decode(t, resp, &body)
		if len(body.Events) != 2 {
			t.Fatalf("Expected 2 events, got %d", len(body.Events))
		}
		if body.Events[0].Change != "quest_completed" || body.Events[0].Version != 2 {
			t.Errorf("Unexpected newest event: %+v", body.Events[0])
		}
		if body.Events[1].Change != "quest_started" || body.Events[1].Version != 1 {
			t.Errorf("Unexpected oldest event: %+v", body.Events[1])
		}
	})

	t.Run("limit", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/progress/events?limit=1", token, "")
		var body struct {
			Events []progHandlers.EventResponse `json:"events"`
		}
		decode(t, resp, &body)
		if len(body.Events) != 1 {
			t.Errorf("Expected 1 event, got %d", len(body.Events))
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/progress/events?limit=abc", token, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})
}

func TestEndedSessionIsGone(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	app := createFullTestServer(t, dbConn)
	_, token := testutils.CreateTestSession(t, dbConn)

	resp := doRequest(t, app, http.MethodDelete, "/sessions/me", token, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodPost, "/progress/quests/start/start", token, "")
	if resp.StatusCode != http.StatusGone {
		t.Errorf("Expected status 410, got %d", resp.StatusCode)
	}
}

func TestCompleteQuestWithoutBody(t *testing.T) {
	dbConn := testutils.SetupTestDB(t)
	app := createFullTestServer(t, dbConn)
	_, token := testutils.CreateTestSession(t, dbConn)

	doRequest(t, app, http.MethodPost, "/progress/quests/start/start", token, "").Body.Close()

	resp := doRequest(t, app, http.MethodPost, "/progress/quests/start/complete", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var change progHandlers.ChangeResponse
	decode(t, resp, &change)
	if change.Passed || change.Change != "none" || change.Status != "in_progress" {
		t.Errorf("Empty payload must be judged, not rejected: %+v", change)
	}
}
