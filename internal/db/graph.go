package db

import (
	"context"
	"encoding/json"
	"fmt"
)

type graphNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FeatureName string `json:"feature_name"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
	Available   bool   `json:"available"`
}

type graphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type graphFeature struct {
	Name           string `json:"name"`
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
}

type graphPayload struct {
	Nodes    []graphNode    `json:"nodes"`
	Edges    []graphEdge    `json:"edges"`
	Features []graphFeature `json:"features"`
}

// GetGraphJSON serializes the whole graph for the visualizer: one node per
// task with its availability flag, one edge per dependency (from the
// dependent task to its prerequisite), and per-feature completion counts.
// All three lists are sorted by name so the payload is deterministic.
func (db *DB) GetGraphJSON(ctx context.Context) (string, error) {
	payload := graphPayload{
		Nodes:    []graphNode{},
		Edges:    []graphEdge{},
		Features: []graphFeature{},
	}

	rows, err := db.QueryContext(ctx, `
		SELECT t.id, t.name, f.name, t.status, t.priority,
		       EXISTS (SELECT 1 FROM v_available_tasks a WHERE a.id = t.id)
		FROM tasks t
		JOIN features f ON t.feature_id = f.id
		ORDER BY t.name ASC
	`)
	if err != nil {
		return "", fmt.Errorf("failed to query graph nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n graphNode
		var available int
		if err := rows.Scan(&n.ID, &n.Name, &n.FeatureName, &n.Status, &n.Priority, &available); err != nil {
			return "", fmt.Errorf("failed to scan graph node: %w", err)
		}
		n.Available = available == 1
		payload.Nodes = append(payload.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}

	edgeRows, err := db.QueryContext(ctx, `
		SELECT t.name, p.name
		FROM dependencies dep
		JOIN tasks t ON dep.task_id = t.id
		JOIN tasks p ON dep.depends_on_task_id = p.id
		ORDER BY t.name ASC, p.name ASC
	`)
	if err != nil {
		return "", fmt.Errorf("failed to query graph edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e graphEdge
		if err := edgeRows.Scan(&e.From, &e.To); err != nil {
			return "", fmt.Errorf("failed to scan graph edge: %w", err)
		}
		payload.Edges = append(payload.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}

	featureRows, err := db.QueryContext(ctx, `
		SELECT f.name,
		       COUNT(t.id),
		       COUNT(CASE WHEN t.status = 'completed' THEN 1 END)
		FROM features f
		LEFT JOIN tasks t ON t.feature_id = f.id
		GROUP BY f.id
		ORDER BY f.name ASC
	`)
	if err != nil {
		return "", fmt.Errorf("failed to query feature progress: %w", err)
	}
	defer featureRows.Close()

	for featureRows.Next() {
		var f graphFeature
		if err := featureRows.Scan(&f.Name, &f.TotalTasks, &f.CompletedTasks); err != nil {
			return "", fmt.Errorf("failed to scan feature progress: %w", err)
		}
		payload.Features = append(payload.Features, f)
	}
	if err := featureRows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal graph json: %w", err)
	}
	return string(out), nil
}
