package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ldi/tasktree/internal/db"
	"github.com/ldi/tasktree/pkg/models"
)

func newTestServer(t *testing.T) (*httptest.Server, *db.DB, context.Context) {
	t.Helper()

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	ctx := t.Context()
	if err := database.Init(ctx); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	ts := httptest.NewServer(NewServer(database).Handler())
	t.Cleanup(ts.Close)

	return ts, database, ctx
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestAPIEndpoints(t *testing.T) {
	ts, database, ctx := newTestServer(t)

	if err := database.CreateFeature(ctx, &models.Feature{Name: "web", Description: "d", Specification: "s"}); err != nil {
		t.Fatalf("Failed to create feature: %v", err)
	}
	for _, name := range []string{"render", "route"} {
		task := &models.Task{Name: name, Description: "d", Specification: "s", FeatureName: "web"}
		if err := database.CreateTask(ctx, task); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
	}
	if err := database.CreateDependency(ctx, "render", "route"); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}

	t.Run("tasks", func(t *testing.T) {
		var tasks []models.Task
		getJSON(t, ts.URL+"/api/tasks", &tasks)
		if len(tasks) != 2 {
			t.Errorf("Expected 2 tasks, got %d", len(tasks))
		}
	})

	t.Run("features", func(t *testing.T) {
		var features []models.Feature
		getJSON(t, ts.URL+"/api/features", &features)
		if len(features) != 2 { // misc + web
			t.Errorf("Expected 2 features, got %d", len(features))
		}
	})

	t.Run("dependencies", func(t *testing.T) {
		var deps []models.Dependency
		getJSON(t, ts.URL+"/api/dependencies", &deps)
		if len(deps) != 1 {
			t.Fatalf("Expected 1 dependency, got %d", len(deps))
		}
		if deps[0].TaskName != "render" || deps[0].DependsOnTaskName != "route" {
			t.Errorf("Unexpected edge: %+v", deps[0])
		}
	})

	t.Run("graph", func(t *testing.T) {
		var graph struct {
			Nodes []struct {
				Name      string `json:"name"`
				Available bool   `json:"available"`
			} `json:"nodes"`
			Edges []struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"edges"`
		}
		getJSON(t, ts.URL+"/api/graph", &graph)
		if len(graph.Nodes) != 2 || len(graph.Edges) != 1 {
			t.Errorf("Expected 2 nodes and 1 edge, got %d and %d", len(graph.Nodes), len(graph.Edges))
		}
	})
}

func TestIndexPage(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if !strings.Contains(buf.String(), "<html") {
		t.Error("Expected index page HTML")
	}
}
