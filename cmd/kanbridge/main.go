// kanbridge: MCP bridge to a kanban board of coding-agent tasks
//
// Exposes the Gateway REST API of a kanban board as MCP tools, resources
// and prompts, so any MCP client (Claude Code, OpenCode, Gemini CLI,
// Codex, Cursor) can create tasks, start coding agents on them and talk
// to the agents while they work.
//
// Usage:
//
//	kanbridge serve                # MCP over stdio
//	kanbridge serve --http :8080   # MCP over streamable HTTP
//	kanbridge config               # print the effective configuration
//	kanbridge version
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
		os.Exit(1)
	}
}
