package db

import (
	"encoding/json"
	"testing"

	"github.com/ldi/tasktree/pkg/models"
)

func TestGetGraphJSON(t *testing.T) {
	db, ctx := newTestDB(t)

	if err := db.CreateFeature(ctx, &models.Feature{Name: "core", Description: "d", Specification: "s"}); err != nil {
		t.Fatalf("Failed to create feature: %v", err)
	}
	mustCreateTask(t, db, &models.Task{Name: "first", Description: "d", Specification: "s", FeatureName: "core", Priority: 5})
	mustCreateTask(t, db, &models.Task{Name: "second", Description: "d", Specification: "s", FeatureName: "core", Priority: 2})
	if err := db.CreateDependency(ctx, "second", "first"); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}
	if _, err := db.CompleteTask(ctx, "first"); err != nil {
		t.Fatalf("Failed to complete task: %v", err)
	}

	graphJSON, err := db.GetGraphJSON(ctx)
	if err != nil {
		t.Fatalf("Failed to get graph JSON: %v", err)
	}

	var graph struct {
		Nodes []struct {
			Name        string `json:"name"`
			FeatureName string `json:"feature_name"`
			Status      string `json:"status"`
			Priority    int    `json:"priority"`
			Available   bool   `json:"available"`
		} `json:"nodes"`
		Edges []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"edges"`
		Features []struct {
			Name           string `json:"name"`
			TotalTasks     int    `json:"total_tasks"`
			CompletedTasks int    `json:"completed_tasks"`
		} `json:"features"`
	}
	if err := json.Unmarshal([]byte(graphJSON), &graph); err != nil {
		t.Fatalf("Graph JSON is invalid: %v\n%s", err, graphJSON)
	}

	// Nodes sorted by name with availability computed
	if len(graph.Nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(graph.Nodes))
	}
	if graph.Nodes[0].Name != "first" || graph.Nodes[1].Name != "second" {
		t.Errorf("Nodes out of order: %s, %s", graph.Nodes[0].Name, graph.Nodes[1].Name)
	}
	if graph.Nodes[0].Available {
		t.Error("Completed task should not be available")
	}
	if !graph.Nodes[1].Available {
		t.Error("Unblocked task should be available")
	}
	if graph.Nodes[1].FeatureName != "core" || graph.Nodes[1].Priority != 2 {
		t.Errorf("Node fields wrong: %+v", graph.Nodes[1])
	}

	// One edge, dependent first
	if len(graph.Edges) != 1 || graph.Edges[0].From != "second" || graph.Edges[0].To != "first" {
		t.Errorf("Unexpected edges: %+v", graph.Edges)
	}

	// Feature progress includes the empty misc feature, sorted by name
	if len(graph.Features) != 2 {
		t.Fatalf("Expected 2 features, got %d", len(graph.Features))
	}
	if graph.Features[0].Name != "core" || graph.Features[0].TotalTasks != 2 || graph.Features[0].CompletedTasks != 1 {
		t.Errorf("Feature progress wrong: %+v", graph.Features[0])
	}
	if graph.Features[1].Name != "misc" || graph.Features[1].TotalTasks != 0 {
		t.Errorf("Expected empty misc feature: %+v", graph.Features[1])
	}
}

func TestGetGraphJSONEmpty(t *testing.T) {
	db, ctx := newTestDB(t)

	graphJSON, err := db.GetGraphJSON(ctx)
	if err != nil {
		t.Fatalf("Failed to get graph JSON: %v", err)
	}

	var graph struct {
		Nodes []any `json:"nodes"`
		Edges []any `json:"edges"`
	}
	if err := json.Unmarshal([]byte(graphJSON), &graph); err != nil {
		t.Fatalf("Graph JSON is invalid: %v", err)
	}
	if graph.Nodes == nil || graph.Edges == nil {
		t.Error("Empty graph should serialize empty arrays, not null")
	}
}
