// Package mcp exposes the task repository to AI-side collaborators over the
// Model Context Protocol on stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ldi/butler/internal/core"
	"github.com/ldi/butler/internal/storage"
	"github.com/ldi/butler/pkg/models"
)

// NewServer creates the MCP server over a task manager.
func NewServer(manager *core.TaskManager) *server.MCPServer {
	s := server.NewMCPServer("Butler", "0.1.0")

	s.AddTool(mcp.NewTool("add_task",
		mcp.WithDescription("Create a new task."),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("priority", mcp.Description("Priority (lowest|low|medium|high|urgent)")),
		mcp.WithString("due_date", mcp.Description("Due date (YYYY-MM-DD)")),
		mcp.WithString("project", mcp.Description("Project label")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("parent", mcp.Description("Parent task id or short id")),
	), addTaskHandler(manager))

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filters."),
		mcp.WithString("status", mcp.Description("Filter by status (pending|in_progress|done|cancelled)")),
		mcp.WithString("priority", mcp.Description("Filter by priority")),
		mcp.WithString("project", mcp.Description("Filter by project")),
		mcp.WithString("tag", mcp.Description("Filter by tag")),
		mcp.WithBoolean("include_done", mcp.Description("Include done and cancelled tasks")),
	), listTasksHandler(manager))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a single task by id or short id."),
		mcp.WithString("id", mcp.Description("Task id or short id"), mcp.Required()),
	), getTaskHandler(manager))

	s.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Update task fields."),
		mcp.WithString("id", mcp.Description("Task id or short id"), mcp.Required()),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("priority", mcp.Description("New priority")),
		mcp.WithString("due_date", mcp.Description("New due date (YYYY-MM-DD)")),
		mcp.WithString("project", mcp.Description("New project label")),
	), updateTaskHandler(manager))

	s.AddTool(mcp.NewTool("start_task",
		mcp.WithDescription("Start a task by setting its status to in_progress. Fails while dependencies are unmet."),
		mcp.WithString("id", mcp.Description("Task id or short id"), mcp.Required()),
	), startTaskHandler(manager))

	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task done. A recurring task also gets its next occurrence created."),
		mcp.WithString("id", mcp.Description("Task id or short id"), mcp.Required()),
		mcp.WithNumber("actual_hours", mcp.Description("Hours spent")),
	), completeTaskHandler(manager))

	s.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Append a timestamped note to a task."),
		mcp.WithString("id", mcp.Description("Task id or short id"), mcp.Required()),
		mcp.WithString("text", mcp.Description("Note text"), mcp.Required()),
	), addNoteHandler(manager))

	s.AddTool(mcp.NewTool("search_tasks",
		mcp.WithDescription("Search tasks by title and description."),
		mcp.WithString("query", mcp.Description("Search text"), mcp.Required()),
	), searchTasksHandler(manager))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func addTaskHandler(manager *core.TaskManager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title := mcp.ParseString(request, "title", "")

		opts := core.AddOptions{
			Description: mcp.ParseString(request, "description", ""),
			Project:     mcp.ParseString(request, "project", ""),
			ParentRef:   mcp.ParseString(request, "parent", ""),
			Tags:        splitTags(mcp.ParseString(request, "tags", "")),
		}
		if p := mcp.ParseString(request, "priority", ""); p != "" {
			priority, ok := models.ParsePriority(p)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("unknown priority '%s'", p)), nil
			}
			opts.Priority = priority
		}
		if d := mcp.ParseString(request, "due_date", ""); d != "" {
			due, err := time.Parse("2006-01-02", d)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			opts.DueDate = &due
		}

		t, err := manager.Add(title, opts)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return taskResult(t)
	}
}

func listTasksHandler(manager *core.TaskManager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := storage.Filter{
			Project:     mcp.ParseString(request, "project", ""),
			Tag:         mcp.ParseString(request, "tag", ""),
			IncludeDone: mcp.ParseBoolean(request, "include_done", false),
		}
		if s := mcp.ParseString(request, "status", ""); s != "" {
			status, ok := models.ParseStatus(s)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("unknown status '%s'", s)), nil
			}
			filter.Status = status
		}
		if p := mcp.ParseString(request, "priority", ""); p != "" {
			priority, ok := models.ParsePriority(p)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("unknown priority '%s'", p)), nil
			}
			filter.Priority = priority
		}

		tasks, _, err := manager.List(filter)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"tasks": tasks})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func getTaskHandler(manager *core.TaskManager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := manager.Get(mcp.ParseString(request, "id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return taskResult(t)
	}
}

func updateTaskHandler(manager *core.TaskManager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")

		var update core.Update
		args, _ := request.Params.Arguments.(map[string]any)
		if title, ok := args["title"].(string); ok {
			update.Title = &title
		}
		if description, ok := args["description"].(string); ok {
			update.Description = &description
		}
		if project, ok := args["project"].(string); ok {
			update.Project = &project
		}
		if p, ok := args["priority"].(string); ok {
			priority, valid := models.ParsePriority(p)
			if !valid {
				return mcp.NewToolResultError(fmt.Sprintf("unknown priority '%s'", p)), nil
			}
			update.Priority = &priority
		}
		if d, ok := args["due_date"].(string); ok {
			due, err := time.Parse("2006-01-02", d)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			update.DueDate = &due
		}

		t, err := manager.Update(id, update)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return taskResult(t)
	}
}

func startTaskHandler(manager *core.TaskManager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := manager.Start(mcp.ParseString(request, "id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' started", t.Title)), nil
	}
}

func completeTaskHandler(manager *core.TaskManager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		hours := mcp.ParseFloat64(request, "actual_hours", 0)

		t, successor, err := manager.Complete(id, hours)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if successor != nil {
			return mcp.NewToolResultText(fmt.Sprintf(
				"Task '%s' completed. Next occurrence %s created.", t.Title, successor.ShortID())), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' completed", t.Title)), nil
	}
}

func addNoteHandler(manager *core.TaskManager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		text := mcp.ParseString(request, "text", "")

		t, err := manager.AddNote(id, text)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Note added to '%s'", t.Title)), nil
	}
}

func searchTasksHandler(manager *core.TaskManager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := manager.Search(mcp.ParseString(request, "query", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"tasks": tasks})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func taskResult(t *models.Task) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
