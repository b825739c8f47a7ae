package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ldi/tasktree/internal/db"
	"github.com/ldi/tasktree/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server exposing the task graph over stdio.
// snapshotPath is the default target for the snapshot tools; individual
// calls may override it with a path argument.
func NewServer(database *db.DB, snapshotPath string) *server.MCPServer {
	s := server.NewMCPServer("TaskTree", "0.1.0")
	counter := NewSessionCounter()

	// Feature Management
	s.AddTool(mcp.NewTool("add_feature",
		mcp.WithDescription("Create a new feature grouping for tasks."),
		mcp.WithString("name", mcp.Description("Feature name (max 55 chars, unique)"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Feature description"), mcp.Required()),
		mcp.WithString("specification", mcp.Description("Feature specification"), mcp.Required()),
	), addFeatureHandler(database))

	s.AddTool(mcp.NewTool("get_feature",
		mcp.WithDescription("Get a single feature by name."),
		mcp.WithString("name", mcp.Description("Feature name"), mcp.Required()),
	), getFeatureHandler(database))

	s.AddTool(mcp.NewTool("list_features",
		mcp.WithDescription("List all features, ordered by name."),
	), listFeaturesHandler(database))

	s.AddTool(mcp.NewTool("delete_feature",
		mcp.WithDescription("Delete a feature (cascades to its tasks and their dependencies). The 'misc' feature cannot be deleted."),
		mcp.WithString("name", mcp.Description("Feature name"), mcp.Required()),
	), deleteFeatureHandler(database))

	// Task Management
	s.AddTool(mcp.NewTool("add_task",
		mcp.WithDescription("Create a new task, optionally with its prerequisite edges in the same transaction."),
		mcp.WithString("name", mcp.Description("Task name (max 255 chars, unique)"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description"), mcp.Required()),
		mcp.WithString("specification", mcp.Description("Task specification"), mcp.Required()),
		mcp.WithString("feature_name", mcp.Description("Feature this task belongs to (defaults to 'misc')")),
		mcp.WithNumber("priority", mcp.Description("Priority (0-10, higher is more important)")),
		mcp.WithString("status", mcp.Description("Initial status (pending|in_progress|blocked|completed, defaults to pending)")),
		mcp.WithBoolean("tests_required", mcp.Description("Whether tests are required (defaults to true)")),
		mcp.WithArray("dependencies", mcp.Description("Names of tasks this task depends on")),
	), addTaskHandler(database))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a single task by name."),
		mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
	), getTaskHandler(database))

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks ordered by priority (descending) then creation time, with optional filters."),
		mcp.WithString("status", mcp.Description("Filter by status (pending|in_progress|blocked|completed)")),
		mcp.WithNumber("priority_min", mcp.Description("Minimum priority filter (0-10)")),
		mcp.WithString("feature_name", mcp.Description("Filter by feature name")),
	), listTasksHandler(database))

	s.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Update fields of an existing task. Omitted fields are left unchanged."),
		mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("specification", mcp.Description("New specification")),
		mcp.WithString("status", mcp.Description("New status (pending|in_progress|blocked|completed)")),
		mcp.WithNumber("priority", mcp.Description("New priority (0-10)")),
		mcp.WithBoolean("tests_required", mcp.Description("New tests required flag")),
	), updateTaskHandler(database))

	s.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task and every dependency edge touching it."),
		mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
	), deleteTaskHandler(database))

	s.AddTool(mcp.NewTool("start_task",
		mcp.WithDescription("Start a task by setting its status to in_progress."),
		mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
	), startTaskHandler(database))

	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Complete a task by setting its status to completed."),
		mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
	), completeTaskHandler(database))

	// Dependency Management
	s.AddTool(mcp.NewTool("add_dependency",
		mcp.WithDescription("Add a dependency: task_name cannot proceed until depends_on_task_name is completed. Rejected if it would create a cycle."),
		mcp.WithString("task_name", mcp.Description("Name of the dependent task"), mcp.Required()),
		mcp.WithString("depends_on_task_name", mcp.Description("Name of the prerequisite task"), mcp.Required()),
	), addDependencyHandler(database))

	s.AddTool(mcp.NewTool("add_dependencies",
		mcp.WithDescription("Add several prerequisites for one task atomically."),
		mcp.WithString("task_name", mcp.Description("Name of the dependent task"), mcp.Required()),
		mcp.WithArray("depends_on_task_names", mcp.Description("Names of the prerequisite tasks"), mcp.Required()),
	), addDependenciesHandler(database))

	s.AddTool(mcp.NewTool("remove_dependency",
		mcp.WithDescription("Remove a dependency edge."),
		mcp.WithString("task_name", mcp.Description("Name of the dependent task"), mcp.Required()),
		mcp.WithString("depends_on_task_name", mcp.Description("Name of the prerequisite task"), mcp.Required()),
	), removeDependencyHandler(database))

	s.AddTool(mcp.NewTool("list_dependencies",
		mcp.WithDescription("List dependency edges as name pairs, optionally filtered to edges touching one task."),
		mcp.WithString("task_name", mcp.Description("Only edges mentioning this task")),
	), listDependenciesHandler(database))

	s.AddTool(mcp.NewTool("get_available_tasks",
		mcp.WithDescription("List tasks ready to work on: not completed, with every prerequisite completed."),
	), getAvailableTasksHandler(database))

	s.AddTool(mcp.NewTool("claim_next_task",
		mcp.WithDescription("Atomically claim the highest-priority available pending task, moving it to in_progress."),
	), claimNextTaskHandler(database))

	// Graph Queries
	s.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get the complete task graph as JSON: nodes, edges, and per-feature progress."),
	), getGraphHandler(database))

	// Snapshots
	s.AddTool(mcp.NewTool("export_snapshot",
		mcp.WithDescription("Export the full graph to a JSONL snapshot file."),
		mcp.WithString("path", mcp.Description("Target file (defaults to the configured snapshot path)")),
	), exportSnapshotHandler(database, snapshotPath))

	s.AddTool(mcp.NewTool("import_snapshot",
		mcp.WithDescription("Import a JSONL snapshot file."),
		mcp.WithString("path", mcp.Description("Source file (defaults to the configured snapshot path)")),
		mcp.WithBoolean("overwrite", mcp.Description("Replace existing contents instead of merging (defaults to false)")),
	), importSnapshotHandler(database, snapshotPath))

	// Staging Management
	s.AddTool(mcp.NewTool("stage_feature",
		mcp.WithDescription("Stage a feature for later commit. Staged changes take effect only on commit_staged_changes."),
		mcp.WithString("name", mcp.Description("Feature name"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Feature description"), mcp.Required()),
		mcp.WithString("specification", mcp.Description("Feature specification"), mcp.Required()),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default')")),
	), stageFeatureHandler(database))

	s.AddTool(mcp.NewTool("stage_task",
		mcp.WithDescription("Stage a task for later commit."),
		mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description"), mcp.Required()),
		mcp.WithString("specification", mcp.Description("Task specification"), mcp.Required()),
		mcp.WithString("feature_name", mcp.Description("Feature this task belongs to (defaults to 'misc')")),
		mcp.WithNumber("priority", mcp.Description("Priority (0-10)")),
		mcp.WithBoolean("tests_required", mcp.Description("Whether tests are required (defaults to true)")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default')")),
	), stageTaskHandler(database))

	s.AddTool(mcp.NewTool("stage_dependency",
		mcp.WithDescription("Stage a dependency edge for later commit."),
		mcp.WithString("task_name", mcp.Description("Name of the dependent task"), mcp.Required()),
		mcp.WithString("depends_on_task_name", mcp.Description("Name of the prerequisite task"), mcp.Required()),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default')")),
	), stageDependencyHandler(database))

	s.AddTool(mcp.NewTool("list_staged_changes",
		mcp.WithDescription("List staged changes for a session without committing them."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default')")),
	), listStagedChangesHandler(database))

	s.AddTool(mcp.NewTool("commit_staged_changes",
		mcp.WithDescription("Commit all staged changes for a session in one transaction. On any validation failure nothing is applied."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default')")),
	), commitStagedChangesHandler(database))

	s.AddTool(mcp.NewTool("discard_staged_changes",
		mcp.WithDescription("Discard all staged changes for a session without applying them."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default')")),
	), discardStagedChangesHandler(database))

	// Session State
	s.AddTool(mcp.NewTool("get_session_count",
		mcp.WithDescription("Get the current session counter value."),
	), getSessionCountHandler(counter))

	s.AddTool(mcp.NewTool("increment_session_count",
		mcp.WithDescription("Increment the session counter (capped at 1) and return the new value."),
	), incrementSessionCountHandler(counter))

	s.AddTool(mcp.NewTool("reset_session_count",
		mcp.WithDescription("Reset the session counter to 0."),
	), resetSessionCountHandler(counter))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func addFeatureHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := &models.Feature{
			Name:          mcp.ParseString(request, "name", ""),
			Description:   mcp.ParseString(request, "description", ""),
			Specification: mcp.ParseString(request, "specification", ""),
		}

		if err := database.CreateFeature(ctx, f); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(f)
	}
}

func getFeatureHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		f, err := database.GetFeature(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if f == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Feature '%s' not found", name)), nil
		}

		return jsonResult(f)
	}
}

func listFeaturesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		features, err := database.ListFeatures(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{"features": features})
	}
}

func deleteFeatureHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		deleted, err := database.DeleteFeature(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !deleted {
			return mcp.NewToolResultError(fmt.Sprintf("Feature '%s' not found", name)), nil
		}

		return mcp.NewToolResultText("Feature deleted successfully"), nil
	}
}

func addTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t := &models.Task{
			Name:          mcp.ParseString(request, "name", ""),
			Description:   mcp.ParseString(request, "description", ""),
			Specification: mcp.ParseString(request, "specification", ""),
			FeatureName:   mcp.ParseString(request, "feature_name", ""),
			Priority:      mcp.ParseInt(request, "priority", 0),
			TestsRequired: mcp.ParseBoolean(request, "tests_required", true),
			Status:        models.TaskStatus(mcp.ParseString(request, "status", "")),
		}

		deps := parseStringList(request, "dependencies")

		var err error
		if len(deps) > 0 {
			err = database.CreateTaskWithDependencies(ctx, t, deps)
		} else {
			err = database.CreateTask(ctx, t)
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(t)
	}
}

func getTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		t, err := database.GetTask(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if t == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Task '%s' not found", name)), nil
		}

		return jsonResult(t)
	}
}

func listTasksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)

		var filter db.TaskFilter
		if s, ok := args["status"].(string); ok && s != "" {
			status, err := models.ParseTaskStatus(s)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			filter.Status = &status
		}
		if p, ok := args["priority_min"].(float64); ok {
			min := int(p)
			filter.PriorityMin = &min
		}
		if fn, ok := args["feature_name"].(string); ok && fn != "" {
			filter.FeatureName = &fn
		}

		tasks, err := database.ListTasks(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{"tasks": tasks})
	}
}

func updateTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		var patch models.TaskPatch
		args, _ := request.Params.Arguments.(map[string]any)
		if description, ok := args["description"].(string); ok {
			patch.Description = &description
		}
		if specification, ok := args["specification"].(string); ok {
			patch.Specification = &specification
		}
		if status, ok := args["status"].(string); ok {
			patch.Status = &status
		}
		if priority, ok := args["priority"].(float64); ok {
			p := int(priority)
			patch.Priority = &p
		}
		if testsRequired, ok := args["tests_required"].(bool); ok {
			patch.TestsRequired = &testsRequired
		}

		t, err := database.UpdateTask(ctx, name, patch)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if t == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Task '%s' not found", name)), nil
		}

		return jsonResult(t)
	}
}

func deleteTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		deleted, err := database.DeleteTask(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !deleted {
			return mcp.NewToolResultError(fmt.Sprintf("Task '%s' not found", name)), nil
		}

		return mcp.NewToolResultText("Task deleted successfully"), nil
	}
}

func startTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		t, err := database.StartTask(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if t == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Task '%s' not found", name)), nil
		}

		return jsonResult(t)
	}
}

func completeTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		t, err := database.CompleteTask(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if t == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Task '%s' not found", name)), nil
		}

		return jsonResult(t)
	}
}

func addDependencyHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskName := mcp.ParseString(request, "task_name", "")
		dependsOnTaskName := mcp.ParseString(request, "depends_on_task_name", "")

		if err := database.CreateDependency(ctx, taskName, dependsOnTaskName); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(&models.Dependency{
			TaskName:          taskName,
			DependsOnTaskName: dependsOnTaskName,
		})
	}
}

func addDependenciesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskName := mcp.ParseString(request, "task_name", "")
		dependsOn := parseStringList(request, "depends_on_task_names")

		if err := database.CreateDependencies(ctx, taskName, dependsOn); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Added %d dependencies for task '%s'", len(dependsOn), taskName)), nil
	}
}

func removeDependencyHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskName := mcp.ParseString(request, "task_name", "")
		dependsOnTaskName := mcp.ParseString(request, "depends_on_task_name", "")

		removed, err := database.RemoveDependency(ctx, taskName, dependsOnTaskName)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !removed {
			return mcp.NewToolResultError(fmt.Sprintf("Dependency %s -> %s not found", taskName, dependsOnTaskName)), nil
		}

		return mcp.NewToolResultText("Dependency removed successfully"), nil
	}
}

func listDependenciesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var taskName *string
		args, _ := request.Params.Arguments.(map[string]any)
		if tn, ok := args["task_name"].(string); ok && tn != "" {
			taskName = &tn
		}

		deps, err := database.ListDependencies(ctx, taskName)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{"dependencies": deps})
	}
}

func getAvailableTasksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := database.GetAvailableTasks(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{"tasks": tasks})
	}
}

func claimNextTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := database.ClaimNextTask(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if t == nil {
			return mcp.NewToolResultText("No pending tasks are available"), nil
		}

		return jsonResult(t)
	}
}

func getGraphHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		graphJSON, err := database.GetGraphJSON(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(graphJSON), nil
	}
}

func exportSnapshotHandler(database *db.DB, defaultPath string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := mcp.ParseString(request, "path", defaultPath)
		if path == "" {
			return mcp.NewToolResultError("no snapshot path configured"), nil
		}

		if err := database.ExportSnapshot(ctx, path); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Snapshot exported to %s", path)), nil
	}
}

func importSnapshotHandler(database *db.DB, defaultPath string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := mcp.ParseString(request, "path", defaultPath)
		if path == "" {
			return mcp.NewToolResultError("no snapshot path configured"), nil
		}
		overwrite := mcp.ParseBoolean(request, "overwrite", false)

		if err := database.ImportSnapshot(ctx, path, overwrite); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Snapshot imported from %s", path)), nil
	}
}

func stageFeatureHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")
		sessionID := mcp.ParseString(request, "session_id", "default")

		database.Staging.AddFeature(sessionID, &models.Feature{
			Name:          name,
			Description:   mcp.ParseString(request, "description", ""),
			Specification: mcp.ParseString(request, "specification", ""),
		})
		return mcp.NewToolResultText(fmt.Sprintf("Feature '%s' staged for session '%s'. Stage more or call 'commit_staged_changes' to apply.", name, sessionID)), nil
	}
}

func stageTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")
		sessionID := mcp.ParseString(request, "session_id", "default")

		database.Staging.AddTask(sessionID, &models.Task{
			Name:          name,
			Description:   mcp.ParseString(request, "description", ""),
			Specification: mcp.ParseString(request, "specification", ""),
			FeatureName:   mcp.ParseString(request, "feature_name", ""),
			Priority:      mcp.ParseInt(request, "priority", 0),
			TestsRequired: mcp.ParseBoolean(request, "tests_required", true),
			Status:        models.TaskStatusPending,
		})
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' staged for session '%s'. Stage more or call 'commit_staged_changes' to apply.", name, sessionID)), nil
	}
}

func stageDependencyHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskName := mcp.ParseString(request, "task_name", "")
		dependsOnTaskName := mcp.ParseString(request, "depends_on_task_name", "")
		sessionID := mcp.ParseString(request, "session_id", "default")

		database.Staging.AddDependency(sessionID, &models.Dependency{
			TaskName:          taskName,
			DependsOnTaskName: dependsOnTaskName,
		})
		return mcp.NewToolResultText(fmt.Sprintf("Dependency %s -> %s staged for session '%s'. Call 'commit_staged_changes' to apply.", taskName, dependsOnTaskName, sessionID)), nil
	}
}

func listStagedChangesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")

		return jsonResult(database.Staging.Peek(sessionID))
	}
}

func commitStagedChangesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")

		if err := database.CommitBatch(ctx, sessionID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Staged changes for session '%s' committed successfully", sessionID)), nil
	}
}

func discardStagedChangesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")

		database.Staging.Discard(sessionID)
		return mcp.NewToolResultText(fmt.Sprintf("Staged changes for session '%s' discarded", sessionID)), nil
	}
}

func getSessionCountHandler(counter *SessionCounter) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]int{"count": counter.Get()})
	}
}

func incrementSessionCountHandler(counter *SessionCounter) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]int{"count": counter.Increment()})
	}
}

func resetSessionCountHandler(counter *SessionCounter) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counter.Reset()
		return mcp.NewToolResultText("Session counter reset"), nil
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func parseStringList(request mcp.CallToolRequest, key string) []string {
	args, _ := request.Params.Arguments.(map[string]any)
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
