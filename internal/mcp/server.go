package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/studybuddy/internal/app"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"notes_stage": {
		def:     stageToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStage },
	},
	"notes_unstage": {
		def:     unstageToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUnstage },
	},
	"notes_extract": {
		def:     extractToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExtract },
	},
	"notes_summarize": {
		def:     summarizeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSummarize },
	},
	"notes_save": {
		def:     saveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSave },
	},
	"notes_edit": {
		def:     editToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEdit },
	},
	"notes_toggle_edit": {
		def:     toggleEditToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleToggleEdit },
	},
	"notes_download": {
		def:     downloadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDownload },
	},
	"notes_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"notes_state": {
		def:     stateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleState },
	},
	"history_list": {
		def:     historyListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryList },
	},
	"history_load": {
		def:     historyLoadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryLoad },
	},
	"history_rename": {
		def:     historyRenameToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryRename },
	},
	"history_delete": {
		def:     historyDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryDelete },
	},
	"history_retry": {
		def:     historyRetryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryRetry },
	},
	"identity_status": {
		def:     identityStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIdentityStatus },
	},
	"identity_login": {
		def:     identityLoginToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIdentityLogin },
	},
	"identity_logout": {
		def:     identityLogoutToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIdentityLogout },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with StudyBuddy tools registered.
// Tools listed in a.Config.DisabledTools are excluded from registration.
func NewServer(a *app.App, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"studybuddy",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(a)

	disabled := make(map[string]bool)
	for _, name := range a.Config.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run resolves the identity and serves tools over stdio.
func Run(ctx context.Context, a *app.App, version string) error {
	a.Start(ctx)
	s := NewServer(a, version)
	return server.ServeStdio(s)
}
