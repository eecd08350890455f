package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/docmark"
	"github.com/brunobiangulo/docmark/storage"
)

var testMCPImpl = &mcp.Implementation{Name: "docmark-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	mem := storage.NewMemory()
	mem.Put("notes/readme.md", []byte("# Notes\n\nHello from storage."))

	engine, err := docmark.New(docmark.DefaultConfig(), docmark.WithStorage(mem))
	if err != nil {
		t.Fatalf("docmark.New: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	srv := New(engine, "test")
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_ListFormats(t *testing.T) {
	session := mcpSession(t)
	text, isErr := callTool(t, session, "list_formats", map[string]any{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var resp struct {
		Formats []string `json:"formats"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, want := range []string{"pdf", "docx", "xlsx", "zip", "md", "csv"} {
		if !slices.Contains(resp.Formats, want) {
			t.Errorf("missing format %q", want)
		}
	}
}

func TestMCP_ConvertPath(t *testing.T) {
	session := mcpSession(t)
	text, isErr := callTool(t, session, "convert_document", map[string]any{"path": "notes/readme.md"})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var res ConvertResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Pages != 1 {
		t.Errorf("Pages = %d, want 1", res.Pages)
	}
	if !strings.Contains(res.Markdown, "Hello from storage.") {
		t.Errorf("Markdown = %q", res.Markdown)
	}
}

func TestMCP_ConvertContent(t *testing.T) {
	session := mcpSession(t)
	csv := base64.StdEncoding.EncodeToString([]byte("Name,Age\nAnn,31\n"))
	text, isErr := callTool(t, session, "convert_document", map[string]any{
		"content_base64": csv,
		"filename":       "people.csv",
	})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var res ConvertResult
	json.Unmarshal([]byte(text), &res)
	if !strings.Contains(res.Markdown, "| Ann | 31 |") {
		t.Errorf("Markdown = %q", res.Markdown)
	}
}

func TestMCP_ConvertErrors(t *testing.T) {
	session := mcpSession(t)
	tests := []struct {
		name string
		args map[string]any
	}{
		{"no input", map[string]any{}},
		{"both inputs", map[string]any{"path": "a.md", "content_base64": "YQ=="}},
		{"bad base64", map[string]any{"content_base64": "!!!", "filename": "a.txt"}},
		{"missing file", map[string]any{"path": "notes/missing.md"}},
		{"unsupported", map[string]any{"content_base64": base64.StdEncoding.EncodeToString([]byte{0, 1, 2}), "filename": "x.bin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if text, isErr := callTool(t, session, "convert_document", tt.args); !isErr {
				t.Errorf("expected tool error, got %s", text)
			}
		})
	}
}

func TestMCP_DetectFormat(t *testing.T) {
	session := mcpSession(t)
	tests := []struct {
		filename string
		content  []byte
		format   string
	}{
		{"report.docx", nil, "docx"},
		{"archive.tar.gz", nil, "tar.gz"},
		{"unnamed", []byte("%PDF-1.7\n"), "pdf"},
	}
	for _, tt := range tests {
		text, isErr := callTool(t, session, "detect_format", map[string]any{
			"filename":       tt.filename,
			"content_base64": base64.StdEncoding.EncodeToString(tt.content),
		})
		if isErr {
			t.Errorf("detect %q: tool error %s", tt.filename, text)
			continue
		}
		var resp struct {
			Format string `json:"format"`
		}
		json.Unmarshal([]byte(text), &resp)
		if resp.Format != tt.format {
			t.Errorf("detect %q = %q, want %q", tt.filename, resp.Format, tt.format)
		}
	}
}
