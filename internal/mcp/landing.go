package mcp

import (
	"fmt"
	"html"
	"net/http"
	"strings"
)

// NewLandingHandler serves a short index page at / naming the endpoints
// and registered tools.
func NewLandingHandler(name string) http.HandlerFunc {
	tools := []string{ToolAskQuestion, ToolSearchMaterials, ToolDispatchContent, ToolCheckTask}
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html lang=\"en\">\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n", html.EscapeString(name))
	fmt.Fprintf(&b, "<h1>%s</h1>\n<p>Questions over conference talks and papers via the Model Context Protocol.</p>\n", html.EscapeString(name))
	b.WriteString("<h2>Endpoints</h2>\n<ul>\n<li><a href=\"/mcp\">/mcp</a> MCP Streamable HTTP</li>\n<li><a href=\"/health\">/health</a> Health check</li>\n</ul>\n")
	b.WriteString("<h2>Tools</h2>\n<ul>\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "<li><code>%s</code></li>\n", t)
	}
	b.WriteString("</ul>\n</body>\n</html>\n")
	page := b.String()

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}
}
