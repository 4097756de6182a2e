package vcs

import (
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// resultText concatenates the text content blocks of a tool call result.
// MCP servers for code hosts return their payload as a single JSON text
// block; resultText plus gjson is how every adapter method reads it.
func resultText(result *mcp.CallToolResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nil tool result")
	}
	if result.IsError {
		return "", fmt.Errorf("tool call returned an error: %s", flattenText(result))
	}
	text := flattenText(result)
	if text == "" {
		return "", fmt.Errorf("tool call returned no text content")
	}
	return text, nil
}

func flattenText(result *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
