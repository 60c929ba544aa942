package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// repl is an interactive command-line front end over the MCP tool handlers.
type repl struct {
	app      *App
	out      io.Writer
	handlers map[string]server.ToolHandlerFunc
	session  string
}

// runInteractiveCLI starts an interactive command-line interface for testing
// personas and chats without an MCP client.
func (a *App) runInteractiveCLI(ctx context.Context, in io.Reader, out io.Writer) {
	r := &repl{app: a, out: out, handlers: a.handlers()}

	fmt.Fprintln(out, WelcomeMsg)
	fmt.Fprintln(out, HelpMsg)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n"+PromptStr)
		if !scanner.Scan() {
			break
		}
		if !r.exec(ctx, scanner.Text()) {
			return
		}
	}
}

// exec runs one command line and reports whether the loop should continue.
func (r *repl) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), parts[0]))

	switch strings.ToLower(parts[0]) {
	case "exit", "quit":
		return false

	case "help":
		fmt.Fprintln(r.out, HelpMsg)

	case "personas":
		r.call(ctx, "persona_list", map[string]any{"query": rest})

	case "persona":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "Usage: persona <id>")
			return true
		}
		r.call(ctx, "persona_get", map[string]any{"id": parts[1]})

	case "create":
		if rest == "" {
			fmt.Fprintln(r.out, "Usage: create <name> [| tagline]")
			return true
		}
		name, tagline, _ := strings.Cut(rest, "|")
		r.call(ctx, "persona_save", map[string]any{
			"name":    strings.TrimSpace(name),
			"tagline": strings.TrimSpace(tagline),
		})

	case "key":
		if len(parts) < 3 {
			fmt.Fprintln(r.out, "Usage: key <persona-id> <api-key>")
			return true
		}
		r.call(ctx, "persona_save", map[string]any{"id": parts[1], "api_key": parts[2]})

	case "chat":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "Usage: chat <persona-id>")
			return true
		}
		r.start(ctx, map[string]any{"persona_id": parts[1]})

	case "group":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "Usage: group <id,id,...>")
			return true
		}
		ids := strings.Split(parts[1], ",")
		r.start(ctx, map[string]any{"persona_ids": toAny(ids), "group": true})

	case "resume":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "Usage: resume <conversation-id>")
			return true
		}
		r.start(ctx, map[string]any{"conversation_id": parts[1]})

	case "conversations":
		r.call(ctx, "conversation_list", map[string]any{"persona_id": rest})

	case "say":
		if r.requireSession() {
			r.call(ctx, "chat_send", map[string]any{"session_id": r.session, "message": rest})
		}

	case "reset":
		if r.requireSession() {
			r.call(ctx, "chat_reset", map[string]any{"session_id": r.session})
		}

	case "save":
		if r.requireSession() {
			r.call(ctx, "chat_save", map[string]any{"session_id": r.session})
		}

	case "export":
		if r.requireSession() {
			r.call(ctx, "chat_export", map[string]any{"session_id": r.session, "directory": rest})
		}

	case "title":
		if r.requireSession() {
			r.call(ctx, "chat_title", map[string]any{"session_id": r.session, "title": rest})
		}

	case "tools":
		names := make([]string, 0, len(r.handlers))
		for name := range r.handlers {
			names = append(names, name)
		}
		slices.Sort(names)
		fmt.Fprintln(r.out, strings.Join(names, "\n"))

	case "call":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "Usage: call <tool> [json arguments]")
			return true
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(strings.TrimPrefix(rest, parts[1])); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				fmt.Fprintf(r.out, "Error: invalid JSON arguments: %v\n", err)
				return true
			}
		}
		r.call(ctx, parts[1], args)

	default:
		fmt.Fprintln(r.out, UnknownCmdMsg)
	}
	return true
}

func (r *repl) requireSession() bool {
	if r.session == "" {
		fmt.Fprintln(r.out, NoSessionMsg)
		return false
	}
	return true
}

// start opens a chat and makes it the current session.
func (r *repl) start(ctx context.Context, args map[string]any) {
	res, ok := r.call(ctx, "chat_start", args)
	if !ok {
		return
	}
	var summary ChatSummary
	if err := json.Unmarshal([]byte(res), &summary); err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	r.session = summary.SessionID
}

// call invokes a tool handler, prints its text and reports whether it
// succeeded.
func (r *repl) call(ctx context.Context, name string, args map[string]any) (string, bool) {
	h, ok := r.handlers[name]
	if !ok {
		fmt.Fprintf(r.out, "Error: unknown tool %q\n", name)
		return "", false
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := h(ctx, req)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return "", false
	}
	text := resultText(res)
	if res.IsError {
		fmt.Fprintf(r.out, "Error: %s\n", text)
		return text, false
	}
	fmt.Fprintln(r.out, text)
	return text, true
}

func resultText(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
