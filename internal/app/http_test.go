package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"guias/api/internal/export"
	"guias/api/internal/generator"
	"guias/api/internal/gitrepo"
)

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(New(Deps{}), "*", nil)
	rr := doJSON(t, server.Handler(), http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if decodeMap(t, rr)["ok"] != true {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestReadyEndpointNotReady(t *testing.T) {
	svc := New(Deps{Checks: []Check{{Name: "database", Ping: func(context.Context) error { return errors.New("refused") }}}})
	rr := doJSON(t, NewHTTPServer(svc, "*", nil).Handler(), http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeMap(t, rr)
	checks := body["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	if body["status"] != "not_ready" || database["error"] != "refused" {
		t.Fatalf("body = %v", body)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, generator.Static{Payload: validReply})
	handler := NewHTTPServer(h.service, "*", nil).Handler()

	rr := doJSON(t, handler, http.MethodPost, "/api/sessions", map[string]any{"id": "ses-1", "tema": "Fracciones"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPut, "/api/sessions/ses-1/draft", sampleRequest())
	if rr.Code != http.StatusOK {
		t.Fatalf("draft status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/sessions/ses-1/generate", map[string]any{"tema": "Fracciones", "duracion": 90, "owner": "docente"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("generate status = %d body=%s", rr.Code, rr.Body.String())
	}
	if got := decodeMap(t, rr)["versionId"]; got != "ver-1" {
		t.Fatalf("versionId = %v", got)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/draft", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("draft after generation status = %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPatch, "/api/sessions/ses-1/guide", map[string]any{
		"path":  map[string]any{"kind": "fase_actividades", "index": 1},
		"value": "Resuelven problemas con recetas",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/guide/status", nil)
	status := decodeMap(t, rr)["status"].(map[string]any)
	if status["dirty"] != true {
		t.Fatalf("status = %v", status)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/sessions/ses-1/guide/flush", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("flush status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/guide", nil)
	view := decodeMap(t, rr)
	if !strings.Contains(rr.Body.String(), "Resuelven problemas con recetas") || view["estado"] != "editando_guia" {
		t.Fatalf("guide = %s", rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/sessions/ses-1/schedule", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("schedule status = %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, handler, http.MethodPost, "/api/sessions/ses-1/complete", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPatch, "/api/sessions/ses-1/guide", map[string]any{
		"path":  map[string]any{"kind": "titulo"},
		"value": "otro",
	})
	if rr.Code != http.StatusConflict || decodeMap(t, rr)["code"] != "READ_ONLY" {
		t.Fatalf("patch on completed session = %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/sessions/ses-1/generate", map[string]any{"tema": "Otra"})
	if rr.Code != http.StatusConflict || decodeMap(t, rr)["code"] != "READ_ONLY" {
		t.Fatalf("generate on completed session = %d %s", rr.Code, rr.Body.String())
	}
}

func TestScheduleFromBorradorIsInvalidTransition(t *testing.T) {
	h := newHarness(t, generator.Static{Payload: validReply})
	handler := NewHTTPServer(h.service, "*", nil).Handler()
	doJSON(t, handler, http.MethodPost, "/api/sessions", map[string]any{"id": "ses-1"})

	rr := doJSON(t, handler, http.MethodPost, "/api/sessions/ses-1/schedule", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeMap(t, rr)
	details := body["details"].(map[string]any)
	if body["code"] != "INVALID_TRANSITION" || details["from"] != "borrador" {
		t.Fatalf("body = %v", body)
	}
}

func TestPatchRejectsBadPath(t *testing.T) {
	h := newHarness(t, generator.Static{Payload: validReply})
	handler := NewHTTPServer(h.service, "*", nil).Handler()
	h.generate(t, "ses-1")

	rr := doJSON(t, handler, http.MethodPatch, "/api/sessions/ses-1/guide", map[string]any{
		"path":  map[string]any{"kind": "fase_actividades", "index": 7},
		"value": "x",
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPatch, "/api/sessions/ses-1/guide", map[string]any{"value": "x"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing kind status = %d", rr.Code)
	}
}

func TestExportPDF(t *testing.T) {
	h := newHarness(t, generator.Static{Payload: validReply})
	handler := NewHTTPServer(h.service, "*", nil).Handler()
	h.generate(t, "ses-1")

	rr := doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/export.pdf?upload=true", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("content type = %s", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "fracciones.pdf") {
		t.Fatalf("disposition = %s", rr.Header().Get("Content-Disposition"))
	}
	req := h.exporter.requests[0]
	if req.VersionID != "ver-1" || req.Format != export.FormatPDF || !req.Upload {
		t.Fatalf("export request = %+v", req)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/export?format=odt", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unsupported format status = %d", rr.Code)
	}
}

func TestHistoryAndSearch(t *testing.T) {
	h := newHarness(t, generator.Static{Payload: validReply})
	handler := NewHTTPServer(h.service, "*", nil).Handler()
	h.generate(t, "ses-1")
	h.history.commits = []gitrepo.CommitInfo{{Hash: "abc1234", Message: "Crear versión de guía", Fields: []string{"titulo"}}}

	rr := doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/guide/history", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "abc1234") {
		t.Fatalf("history = %d %s", rr.Code, rr.Body.String())
	}

	h.history.err = gitrepo.ErrNoHistory
	rr = doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/guide/history", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing history status = %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/search?q=fracciones&area=Matem%C3%A1tica&limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("search status = %d", rr.Code)
	}
	if q := h.search.queries[0]; q.Text != "fracciones" || q.Area != "Matemática" || q.Limit != 5 {
		t.Fatalf("query = %+v", q)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/search?q=%20", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank query status = %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	handler := NewHTTPServer(New(Deps{}), "*", nil).Handler()
	rr := doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestListSessions(t *testing.T) {
	h := newHarness(t, generator.Static{Payload: validReply})
	handler := NewHTTPServer(h.service, "*", nil).Handler()
	for _, id := range []string{"ses-b", "ses-a", "ses-c"} {
		doJSON(t, handler, http.MethodPost, "/api/sessions", map[string]any{"id": id})
	}

	rr := doJSON(t, handler, http.MethodGet, "/api/sessions?limit=2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	sessions := decodeMap(t, rr)["sessions"].([]any)
	if len(sessions) != 2 {
		t.Fatalf("sessions = %v", sessions)
	}
	first := sessions[0].(map[string]any)
	if first["id"] != "ses-a" || first["estado"] != "borrador" {
		t.Fatalf("first = %v", first)
	}
}

func TestGuideRevisionOverHTTP(t *testing.T) {
	h := newHarness(t, generator.Static{Payload: validReply})
	handler := NewHTTPServer(h.service, "*", nil).Handler()
	h.generate(t, "ses-1")
	h.history.contents = map[string]json.RawMessage{"ver-1@abc1234": h.versions.items["ver-1"].Content}

	rr := doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/guide/history/abc1234", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeMap(t, rr)
	if body["versionId"] != "ver-1" || body["commit"] != "abc1234" {
		t.Fatalf("body = %v", body)
	}
	if body["guide"].(map[string]any)["titulo"] != "Fracciones en la cocina" {
		t.Fatalf("guide = %v", body["guide"])
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/sessions/ses-1/guide/history/fffffff", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown commit status = %d", rr.Code)
	}
}
