package mcp

import "github.com/mark3labs/mcp-go/mcp"

var stageToolDef = mcp.NewTool("notes_stage",
	mcp.WithDescription("Stage local files (images or PDFs) for the next extraction. Duplicates are allowed."),
	mcp.WithArray("paths",
		mcp.Required(),
		mcp.Description("Paths of the files to stage, in order"),
		mcp.WithStringItems(),
	),
)

var unstageToolDef = mcp.NewTool("notes_unstage",
	mcp.WithDescription("Remove one staged file by position, or clear the staging buffer."),
	mcp.WithNumber("index", mcp.Description("0-based position of the file to remove")),
	mcp.WithBoolean("all", mcp.Description("Remove every staged file")),
)

var extractToolDef = mcp.NewTool("notes_extract",
	mcp.WithDescription("Extract text from every staged file in one request. Replaces the working extracted text and clears the buffer on success."),
)

var summarizeToolDef = mcp.NewTool("notes_summarize",
	mcp.WithDescription("Summarize the working extracted text. Returns a pending save; call notes_save with a title to keep it."),
)

var saveToolDef = mcp.NewTool("notes_save",
	mcp.WithDescription("Save the working texts to history under a title. An empty title cancels the save."),
	mcp.WithString("title", mcp.Description("Entry title")),
	mcp.WithString("summary", mcp.Description("Summary to save instead of the working summary")),
)

var editToolDef = mcp.NewTool("notes_edit",
	mcp.WithDescription("Replace the working extracted text or summary. The field must be editable (see notes_toggle_edit)."),
	mcp.WithString("field", mcp.Required(), mcp.Enum(fieldExtracted, fieldSummary), mcp.Description("Which text to replace")),
	mcp.WithString("text", mcp.Required(), mcp.Description("New text")),
)

var toggleEditToolDef = mcp.NewTool("notes_toggle_edit",
	mcp.WithDescription("Flip whether the extracted text or summary may be edited."),
	mcp.WithString("field", mcp.Required(), mcp.Enum(fieldExtracted, fieldSummary), mcp.Description("Which text to toggle")),
)

var downloadToolDef = mcp.NewTool("notes_download",
	mcp.WithDescription("Write the working texts to a local file as a formatted artifact."),
	mcp.WithString("format", mcp.Description("txt (default) or md")),
	mcp.WithString("filename", mcp.Description("File name without directory (default StudyNotes)")),
)

var exportToolDef = mcp.NewTool("notes_export",
	mcp.WithDescription("Create an external document from the working texts. Requires sign-in."),
	mcp.WithString("title", mcp.Description("Document title (default Untitled Notes)")),
)

var stateToolDef = mcp.NewTool("notes_state",
	mcp.WithDescription("Show the working texts, phase, staged files and identity."),
)

var historyListToolDef = mcp.NewTool("history_list",
	mcp.WithDescription("List history entries, newest first."),
	mcp.WithBoolean("refresh", mcp.Description("Reload from the backend first (signed-in only)")),
	mcp.WithBoolean("include_text", mcp.Description("Include extracted and summary text")),
)

var historyLoadToolDef = mcp.NewTool("history_load",
	mcp.WithDescription("Load a history entry into the working texts."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Entry id")),
)

var historyRenameToolDef = mcp.NewTool("history_rename",
	mcp.WithDescription("Rename a history entry locally."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Entry id")),
	mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
)

var historyDeleteToolDef = mcp.NewTool("history_delete",
	mcp.WithDescription("Delete a history entry. Removed locally at once; the backend delete is best-effort."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Entry id")),
)

var historyRetryToolDef = mcp.NewTool("history_retry",
	mcp.WithDescription("Retry saving a history entry whose backend save failed."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Entry id")),
)

var identityStatusToolDef = mcp.NewTool("identity_status",
	mcp.WithDescription("Show whether the client is signed in."),
	mcp.WithBoolean("refresh", mcp.Description("Ask the backend again")),
)

var identityLoginToolDef = mcp.NewTool("identity_login",
	mcp.WithDescription("Return the sign-in URL."),
)

var identityLogoutToolDef = mcp.NewTool("identity_logout",
	mcp.WithDescription("Sign out. History is cleared locally."),
)
