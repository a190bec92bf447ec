package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nimbusmesh/smo/internal/apierr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	byName    map[string]Graph
	byProject map[string][]Graph
}

func (f *fakeStore) GetByName(_ context.Context, name string) (Graph, error) {
	g, ok := f.byName[name]
	if !ok {
		return Graph{}, fmt.Errorf("%w: graph %q", apierr.ErrNotFound, name)
	}
	return g, nil
}

func (f *fakeStore) ListByProject(_ context.Context, project string) ([]Graph, error) {
	return f.byProject[project], nil
}

type fakeOrchestrator struct {
	submitGraph Graph
	err         error
}

func (f *fakeOrchestrator) Submit(context.Context, string, []byte) (Graph, error) {
	return f.submitGraph, f.err
}
func (f *fakeOrchestrator) Replace(context.Context, string) error { return f.err }
func (f *fakeOrchestrator) Start(context.Context, string) error   { return f.err }
func (f *fakeOrchestrator) Stop(context.Context, string) error    { return f.err }
func (f *fakeOrchestrator) Remove(context.Context, string) error  { return f.err }

func TestHandleGet(t *testing.T) {
	store := &fakeStore{byName: map[string]Graph{
		"g1": {Name: "g1", Project: "proj", Status: StatusRunning},
	}}
	h := NewHandler(testLogger(), store, &fakeOrchestrator{})

	t.Run("found", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/g1", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), `"name":"g1"`) {
			t.Errorf("body missing graph name: %s", w.Body.String())
		}
	})

	t.Run("not found", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/missing", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, r)

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestHandleListByProject(t *testing.T) {
	graphs := make([]Graph, 5)
	for i := range graphs {
		graphs[i] = Graph{Name: fmt.Sprintf("g%d", i), Project: "proj"}
	}
	store := &fakeStore{byProject: map[string][]Graph{"proj": graphs}}
	h := NewHandler(testLogger(), store, &fakeOrchestrator{})

	t.Run("default page", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/project/proj/", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		for i := range graphs {
			if !strings.Contains(w.Body.String(), fmt.Sprintf(`"name":"g%d"`, i)) {
				t.Errorf("body missing %s: %s", graphs[i].Name, w.Body.String())
			}
		}
	})

	t.Run("paginated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/project/proj/?page=1&page_size=2", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if strings.Count(w.Body.String(), `"name":`) != 2 {
			t.Errorf("expected 2 graphs in page, body = %s", w.Body.String())
		}
		if strings.Contains(w.Body.String(), `"name":"g2"`) {
			t.Errorf("page 1 should not include g2: %s", w.Body.String())
		}
	})

	t.Run("offset past end returns empty array", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/project/proj/?page=10&page_size=2", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if strings.TrimSpace(w.Body.String()) != "[]" {
			t.Errorf("body = %q, want []", w.Body.String())
		}
	})

	t.Run("bad page param", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/project/proj/?page=0", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, r)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestHandleSubmit(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := NewHandler(testLogger(), &fakeStore{}, &fakeOrchestrator{submitGraph: Graph{Name: "g1"}})
		r := httptest.NewRequest(http.MethodPost, "/project/proj/", strings.NewReader("hdaGraph: {}"))
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "g1") {
			t.Errorf("body = %q, want it to mention the graph name", w.Body.String())
		}
	})

	t.Run("conflict", func(t *testing.T) {
		h := NewHandler(testLogger(), &fakeStore{}, &fakeOrchestrator{err: fmt.Errorf("%w: graph %q", apierr.ErrConflict, "g1")})
		r := httptest.NewRequest(http.MethodPost, "/project/proj/", strings.NewReader("hdaGraph: {}"))
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, r)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestHandleLifecycleActions(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"placement", http.MethodGet, "/g1/placement", http.StatusOK},
		{"start", http.MethodGet, "/g1/start", http.StatusOK},
		{"stop", http.MethodGet, "/g1/stop", http.StatusOK},
		{"remove", http.MethodDelete, "/g1", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(testLogger(), &fakeStore{}, &fakeOrchestrator{})
			r := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			h.Routes().ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestHandleLifecycleActions_OrchestratorError(t *testing.T) {
	h := NewHandler(testLogger(), &fakeStore{}, &fakeOrchestrator{err: apierr.ErrConflict})
	r := httptest.NewRequest(http.MethodGet, "/g1/start", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
