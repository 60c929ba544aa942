package main

// Server configuration constants
const (
	// MCP server name
	ServerName = "persona-mcp"
	// Server version following semantic versioning
	ServerVersion = "1.0.0"
)

// Configuration locations
const (
	ConfigDirName  = ".personamcp"
	ConfigFileName = "config.yaml"
	EnvPrefix      = "PERSONAMCP_"
)

// Session limits
const (
	// Maximum number of chat sessions and chart editors open at once
	DefaultMaxSessions = 32
	// Default number of personas returned by semantic search
	DefaultSearchResults = 5
)

// UI/CLI messages
const (
	PromptStr     = "persona> "
	WelcomeMsg    = "=== PersonaMCP Test Mode ==="
	HelpMsg       = "Commands: personas [q] | persona <id> | create <name> [| tagline] | key <id> <api-key> | chat <persona-id> | group <id,id,...> | say <msg> | reset | save | export [dir] | title <t> | call <tool> [json] | tools | exit"
	UnknownCmdMsg = "Unknown command. Try: personas, persona, create, key, chat, group, say, reset, save, export, title, call, tools, exit"
	NoSessionMsg  = "No active chat. Start one with: chat <persona-id>"
)

// Status messages
const (
	NoPersonasMsg         = "No personas yet. Create your first persona to get started."
	NoConversationsMsg    = "No saved conversations."
	NoChartsMsg           = "No organization charts yet."
	MissingCredentialMsg  = "This persona doesn't have a Gemini API key. Please edit the persona to add an API key."
	NoEligibleMsg         = "No persona with API key available to respond"
	EmptyConversationMsg  = "Can't save an empty conversation"
	EmptyExportMsg        = "No messages to export"
	NoParticipantsMsg     = "Add at least one persona to the group first"
	ConversationResetMsg  = "Conversation reset"
	ConversationSavedMsg  = "Conversation saved"
	PersonaDeletedMsg     = "Persona deleted"
	ChartSavedMsg         = "Organization chart saved"
	SessionBusyMsg        = "A reply is still being generated. Please wait."
	IndexDisabledMsg      = "Semantic search is not configured. Set index.backend to chromem or qdrant."
)
