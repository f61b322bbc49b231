package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/direitopremium/lexgen/internal/cache"
	"github.com/direitopremium/lexgen/internal/genlog"
)

type fakeLog struct {
	got genlog.Query
	err error
}

func (f *fakeLog) List(_ context.Context, q genlog.Query) (genlog.ListResult, error) {
	f.got = q
	if f.err != nil {
		return genlog.ListResult{}, f.err
	}
	return genlog.ListResult{
		Data:  []genlog.Entry{{ID: "1", Profile: "conceitos", Outcome: genlog.OutcomeHit}},
		Total: 7,
	}, nil
}

type fakeStats struct{}

func (fakeStats) Stats(context.Context) (cache.Stats, error) {
	return cache.Stats{Backend: "sqlite", Entries: 12, Expired: 3}, nil
}

type fakeBreakers map[string]string

func (f fakeBreakers) BreakerStates() map[string]string { return f }

const token = "admin-secret"

func setupTestRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(NewTokens(token)))
	r.Mount("/admin", h.Routes())
	return r
}

func do(t *testing.T, r http.Handler, url string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return w, body
}

func TestListGenerations(t *testing.T) {
	logs := &fakeLog{}
	r := setupTestRouter(&Handlers{Logs: logs})

	w, body := do(t, r, "/admin/generations?limit=500&offset=5&profile=conceitos&outcome=hit")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%v", w.Code, body)
	}
	if logs.got.Limit != 200 || logs.got.Offset != 5 || logs.got.Profile != "conceitos" || logs.got.Outcome != "hit" {
		t.Errorf("query = %+v", logs.got)
	}
	data := body["data"].(map[string]any)
	if data["total"].(float64) != 7 || len(data["entries"].([]any)) != 1 {
		t.Errorf("data = %v", data)
	}
}

func TestListGenerations_BadParams(t *testing.T) {
	r := setupTestRouter(&Handlers{Logs: &fakeLog{}})
	for _, url := range []string{"/admin/generations?limit=0", "/admin/generations?limit=x", "/admin/generations?offset=-1"} {
		if w, _ := do(t, r, url); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, w.Code)
		}
	}
}

func TestListGenerations_StoreError(t *testing.T) {
	r := setupTestRouter(&Handlers{Logs: &fakeLog{err: errors.New("db down")}})
	w, body := do(t, r, "/admin/generations")
	if w.Code != http.StatusInternalServerError || body["success"] != false {
		t.Errorf("status = %d body=%v", w.Code, body)
	}
}

func TestCacheStats(t *testing.T) {
	r := setupTestRouter(&Handlers{Cache: fakeStats{}})
	w, body := do(t, r, "/admin/cache/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := body["data"].(map[string]any)
	if data["backend"] != "sqlite" || data["entries"].(float64) != 12 || data["expired"].(float64) != 3 {
		t.Errorf("data = %v", data)
	}
}

func TestBreakers(t *testing.T) {
	r := setupTestRouter(&Handlers{Breakers: fakeBreakers{"gemini/bbbb": "open", "gemini/aaaa": "closed"}})
	w, body := do(t, r, "/admin/breakers")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list := body["data"].([]any)
	if len(list) != 2 || list[0].(map[string]any)["credential"] != "gemini/aaaa" {
		t.Errorf("data = %v", list)
	}
}

func TestDisabledRoutes(t *testing.T) {
	r := setupTestRouter(&Handlers{})
	for _, url := range []string{"/admin/generations", "/admin/cache/stats", "/admin/breakers"} {
		if w, _ := do(t, r, url); w.Code != http.StatusNotImplemented {
			t.Errorf("%s: status = %d, want 501", url, w.Code)
		}
	}
}
