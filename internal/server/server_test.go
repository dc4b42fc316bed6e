package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lazypower/familiar/internal/config"
	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	eng, err := engine.New(db, config.Default(), nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return New(eng, nil, "test-version")
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
}

func TestUtteranceExplicitName(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/utterances", `{"text":"Eu sou o Carlos e trabalho como professor."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["name"] != "Carlos" {
		t.Errorf("name = %v, want Carlos", body["name"])
	}
	if body["confidence"] != 1.0 {
		t.Errorf("confidence = %v, want 1", body["confidence"])
	}

	w = do(t, srv, "GET", "/api/users/current", "")
	if w.Code != http.StatusOK {
		t.Fatalf("current: status = %d", w.Code)
	}
	if got := decodeBody(t, w)["canonical_name"]; got != "Carlos" {
		t.Errorf("current = %v, want Carlos", got)
	}
}

func TestUtteranceBadRequests(t *testing.T) {
	srv := testServer(t)

	if w := do(t, srv, "POST", "/api/utterances", "not json"); w.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := do(t, srv, "POST", "/api/utterances", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing text: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUserLifecycle(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/users", `{"name":"Ana"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d; body: %s", w.Code, w.Body.String())
	}
	anaID := decodeBody(t, w)["id"].(string)

	w = do(t, srv, "POST", "/api/users", `{"name":"Bia"}`)
	biaID := decodeBody(t, w)["id"].(string)

	if w := do(t, srv, "POST", "/api/users", `{"name":"ana"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate alias: status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = do(t, srv, "GET", "/api/users", "")
	if n := decodeBody(t, w)["count"]; n != 2.0 {
		t.Errorf("count = %v, want 2", n)
	}

	w = do(t, srv, "DELETE", "/api/users/"+anaID, "")
	if w.Code != http.StatusConflict {
		t.Errorf("delete current: status = %d, want %d", w.Code, http.StatusConflict)
	}
	if kind := decodeBody(t, w)["kind"]; kind != "ambiguous state" {
		t.Errorf("kind = %v, want ambiguous state", kind)
	}

	w = do(t, srv, "DELETE", "/api/users/"+anaID+"?replacement="+biaID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete with replacement: status = %d; body: %s", w.Code, w.Body.String())
	}

	w = do(t, srv, "DELETE", "/api/users/"+biaID, "")
	if w.Code != http.StatusConflict {
		t.Errorf("delete last: status = %d, want %d", w.Code, http.StatusConflict)
	}

	if w := do(t, srv, "DELETE", "/api/users/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("delete unknown: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSwitchUser(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/users", `{"name":"Ana"}`)
	do(t, srv, "POST", "/api/users", `{"name":"Bia"}`)

	w := do(t, srv, "POST", "/api/users/switch", `{"user":"bia"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("switch: status = %d; body: %s", w.Code, w.Body.String())
	}
	if name := decodeBody(t, w)["canonical_name"]; name != "Bia" {
		t.Errorf("switched to %v, want Bia", name)
	}

	if w := do(t, srv, "POST", "/api/users/switch", `{"user":"zoe"}`); w.Code != http.StatusNotFound {
		t.Errorf("switch unknown: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMemoryRoutes(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/users", `{"name":"Ana"}`)

	w := do(t, srv, "POST", "/api/memories", `{"content":"Ana is allergic to peanuts","importance":"CRITICAL","tags":["health"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("remember: status = %d; body: %s", w.Code, w.Body.String())
	}
	first := decodeBody(t, w)
	if first["importance"] != "CRITICAL" {
		t.Errorf("importance = %v, want CRITICAL", first["importance"])
	}

	w = do(t, srv, "POST", "/api/memories", `{"content":"Ana likes hiking","type":"semantic"}`)
	second := decodeBody(t, w)

	if w := do(t, srv, "POST", "/api/memories", `{"content":"x","type":"dream"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad type: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, srv, "GET", "/api/memories?q=peanuts&limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("recall: status = %d; body: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	results := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	entry := results[0].(map[string]any)["entry"].(map[string]any)
	if entry["id"] != first["id"] {
		t.Errorf("top result = %v, want %v", entry["id"], first["id"])
	}

	assoc := `{"a":"` + first["id"].(string) + `","b":"` + second["id"].(string) + `"}`
	if w := do(t, srv, "POST", "/api/memories/associate", assoc); w.Code != http.StatusOK {
		t.Errorf("associate: status = %d; body: %s", w.Code, w.Body.String())
	}
	self := `{"a":"` + first["id"].(string) + `","b":"` + first["id"].(string) + `"}`
	if w := do(t, srv, "POST", "/api/memories/associate", self); w.Code != http.StatusConflict {
		t.Errorf("self associate: status = %d, want %d", w.Code, http.StatusConflict)
	}

	if w := do(t, srv, "POST", "/api/memories/consolidate", `{"threshold":1.5}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad threshold: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := do(t, srv, "POST", "/api/memories/consolidate", ""); w.Code != http.StatusOK {
		t.Errorf("consolidate: status = %d; body: %s", w.Code, w.Body.String())
	}

	if w := do(t, srv, "DELETE", "/api/memories/"+second["id"].(string), ""); w.Code != http.StatusOK {
		t.Errorf("delete: status = %d", w.Code)
	}
	w = do(t, srv, "GET", "/api/memories", "")
	if n := decodeBody(t, w)["count"]; n != 1.0 {
		t.Errorf("count after delete = %v, want 1", n)
	}

	w = do(t, srv, "GET", "/api/memories/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status = %d; body: %s", w.Code, w.Body.String())
	}
	stats := decodeBody(t, w)
	if stats["total"] != 1.0 {
		t.Errorf("stats total = %v, want 1", stats["total"])
	}
	if n := stats["by_importance"].(map[string]any)["CRITICAL"]; n != 1.0 {
		t.Errorf("critical count = %v, want 1", n)
	}
	if status := stats["health"].(map[string]any)["status"]; status == "empty" {
		t.Errorf("health status = %v", status)
	}
	if w := do(t, srv, "GET", "/api/memories/stats?owner=nobody", ""); w.Code != http.StatusNotFound {
		t.Errorf("stats for unknown owner: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCommandRoute(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/commands", `{"text":"create user Ana"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["handled"] != true {
		t.Error("expected command to be handled")
	}

	w = do(t, srv, "POST", "/api/commands", `{"text":"nice weather today"}`)
	if decodeBody(t, w)["handled"] != false {
		t.Error("plain text is not a command")
	}
}

func TestActionsAndPatterns(t *testing.T) {
	srv := testServer(t)
	w := do(t, srv, "POST", "/api/users", `{"name":"Ana"}`)
	id := decodeBody(t, w)["id"].(string)

	if w := do(t, srv, "POST", "/api/actions", `{"action":"lights_on"}`); w.Code != http.StatusCreated {
		t.Fatalf("action: status = %d; body: %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, "POST", "/api/actions", `{"action":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty action: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, srv, "GET", "/api/users/"+id+"/patterns", "")
	if w.Code != http.StatusOK {
		t.Fatalf("patterns: status = %d; body: %s", w.Code, w.Body.String())
	}
	if n := decodeBody(t, w)["count"]; n != 0.0 {
		t.Errorf("count = %v, want 0 with one sample", n)
	}

	if w := do(t, srv, "GET", "/api/users/ghost/patterns", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
