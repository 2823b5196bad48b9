package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func fakeAuth(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("token", "tok-"+userID)
		return c.Next()
	}
}

func newTrackingApp(persister Persister, userID string) (*fiber.App, *Tracker, *PushSource) {
	source := NewPushSource()
	tracker := NewTracker(testConfig(), source, persister, nil)
	app := fiber.New()
	RegisterRoutes(app.Group("/run"), tracker, source, fakeAuth(userID))
	return app, tracker, source
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	return resp
}

func waitForPoints(t *testing.T, tracker *Tracker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tracker.Snapshot().PointCount >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d accepted points, got %d", n, tracker.Snapshot().PointCount)
}

func TestRunLifecycleHandlers(t *testing.T) {
	persister := &fakePersister{saved: SavedRun{DistanceM: 11.1, DurationMs: 1000}}
	app, tracker, _ := newTrackingApp(persister, "user-1")

	resp := doJSON(t, app, http.MethodPost, "/run/start", "")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var info SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if info.ID == "" || info.UserID != "user-1" {
		t.Fatalf("unexpected session info %+v", info)
	}

	resp = doJSON(t, app, http.MethodPost, "/run/start", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 on second start, got %d", resp.StatusCode)
	}

	now := time.Now().UnixMilli()
	body := `[{"lat":-15.78,"lng":-47.93,"acc":5,"t":` + itoa(now) + `},{"lat":-15.78,"lng":-47.9301,"accuracy":6,"t":` + itoa(now+1000) + `}]`
	resp = doJSON(t, app, http.MethodPost, "/run/samples", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var pushed struct {
		Delivered    int `json:"delivered"`
		DroppedStale int `json:"dropped_stale"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pushed); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if pushed.Delivered != 2 || pushed.DroppedStale != 0 {
		t.Fatalf("unexpected push result %+v", pushed)
	}
	waitForPoints(t, tracker, 2)

	resp = doJSON(t, app, http.MethodGet, "/run/track", "")
	var track struct {
		SessionID string      `json:"session_id"`
		Points    []GeoSample `json:"points"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
		t.Fatalf("decode track: %v", err)
	}
	if track.SessionID != info.ID || len(track.Points) != 2 {
		t.Fatalf("unexpected track %+v", track)
	}

	resp = doJSON(t, app, http.MethodGet, "/run/stats", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected stats 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, app, http.MethodGet, "/run/track.gpx", "")
	if resp.StatusCode != fiber.StatusOK || resp.Header.Get("Content-Type") != "application/gpx+xml" {
		t.Fatalf("unexpected gpx response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	gpxBody, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(gpxBody), "<trkpt") {
		t.Fatalf("expected track points in gpx, got %s", gpxBody)
	}

	resp = doJSON(t, app, http.MethodPost, "/run/stop", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 on stop, got %d", resp.StatusCode)
	}
	var outcome Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode stop: %v", err)
	}
	if outcome.Status != OutcomeSaved || outcome.Saved == nil || outcome.Saved.DurationMs != 1000 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if persister.token != "tok-user-1" {
		t.Fatalf("expected owner token forwarded, got %q", persister.token)
	}

	resp = doJSON(t, app, http.MethodPost, "/run/samples", `{"lat":-15.78,"lng":-47.93}`)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 for samples after stop, got %d", resp.StatusCode)
	}
	resp = doJSON(t, app, http.MethodPost, "/run/stop", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 on idle stop, got %d", resp.StatusCode)
	}
}

func TestSamplesRejectsBadCoordinates(t *testing.T) {
	app, tracker, _ := newTrackingApp(&fakePersister{}, "user-1")
	if _, err := tracker.Start(context.Background(), Owner{UserID: "user-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tracker.Abort()

	resp := doJSON(t, app, http.MethodPost, "/run/samples", `{"lat":91,"lng":0}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for out of range lat, got %d", resp.StatusCode)
	}
	resp = doJSON(t, app, http.MethodPost, "/run/samples", `{"lng":0}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for missing lat, got %d", resp.StatusCode)
	}
}

func TestStopInsufficientAndPersistenceErrors(t *testing.T) {
	persister := &fakePersister{err: detailErr("Token inválido")}
	app, tracker, source := newTrackingApp(persister, "user-1")

	doJSON(t, app, http.MethodPost, "/run/start", "")
	resp := doJSON(t, app, http.MethodPost, "/run/stop", "")
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty run, got %d", resp.StatusCode)
	}

	doJSON(t, app, http.MethodPost, "/run/start", "")
	if _, _, err := source.Push(context.Background(),
		GeoSample{Lat: -15.78, Lng: -47.93, Timestamp: time.Now()},
		GeoSample{Lat: -15.78, Lng: -47.9301, Timestamp: time.Now().Add(time.Second)},
	); err != nil {
		t.Fatalf("push: %v", err)
	}
	waitForPoints(t, tracker, 2)

	resp = doJSON(t, app, http.MethodPost, "/run/stop", "")
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	msg, _ := io.ReadAll(resp.Body)
	if string(msg) != "Token inválido" {
		t.Fatalf("expected server detail, got %q", msg)
	}
	if tracker.State() != StateIdle {
		t.Fatalf("expected idle after failed save")
	}
}

func TestStopByAnotherUserForbidden(t *testing.T) {
	app, tracker, _ := newTrackingApp(&fakePersister{}, "intruder")
	if _, err := tracker.Start(context.Background(), Owner{UserID: "user-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tracker.Abort()

	resp := doJSON(t, app, http.MethodPost, "/run/stop", "")
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestSourceErrorsHandler(t *testing.T) {
	app, tracker, _ := newTrackingApp(&fakePersister{}, "user-1")

	resp := doJSON(t, app, http.MethodPost, "/run/source-errors", `{"message":"permission denied"}`)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 without watch, got %d", resp.StatusCode)
	}

	if _, err := tracker.Start(context.Background(), Owner{UserID: "user-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tracker.Abort()

	resp = doJSON(t, app, http.MethodPost, "/run/source-errors", `{}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 without message, got %d", resp.StatusCode)
	}
	resp = doJSON(t, app, http.MethodPost, "/run/source-errors", `{"message":"permission denied"}`)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if tracker.State() != StateActive {
		t.Fatalf("expected run to stay active after source error")
	}
}

func TestIdleViews(t *testing.T) {
	app, _, _ := newTrackingApp(&fakePersister{}, "user-1")

	resp := doJSON(t, app, http.MethodGet, "/run", "")
	var snap struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.State != "idle" {
		t.Fatalf("expected idle snapshot, got %q", snap.State)
	}

	if resp := doJSON(t, app, http.MethodGet, "/run/stats", ""); resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 for idle stats, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, app, http.MethodGet, "/run/track.gpx", ""); resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for idle gpx, got %d", resp.StatusCode)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
