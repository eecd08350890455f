// Package mcpserver exposes document conversion as Model Context Protocol
// tools.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/docmark"
)

// Converter is the part of *docmark.Engine the tools use.
type Converter interface {
	Convert(ctx context.Context, path string, opts ...docmark.ConvertOption) (*docmark.Document, error)
	ConvertBytes(ctx context.Context, data []byte, name string, opts ...docmark.ConvertOption) (*docmark.Document, error)
	Detect(name string, data []byte) (string, error)
	Formats() []string
}

// New returns an MCP server with the docmark tools registered.
func New(c Converter, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "docmark", Version: version}, nil)
	Register(srv, c)
	return srv
}

// Register adds the docmark tools to srv.
func Register(srv *mcp.Server, c Converter) {
	registerConvertTool(srv, c)
	registerDetectTool(srv, c)
	registerFormatsTool(srv, c)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool wraps a JSON endpoint as an MCP tool. Decode and endpoint errors
// are reported as tool errors, not protocol errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if args := req.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, &r); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		resp, err := endpoint(ctx, &r)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// --- convert_document ---

type convertReq struct {
	Path          string `json:"path"`
	ContentBase64 string `json:"content_base64"`
	Filename      string `json:"filename"`
	MergeTables   bool   `json:"merge_tables"`
	ForceOCR      bool   `json:"force_ocr"`
}

// ConvertResult is the convert_document payload.
type ConvertResult struct {
	Title    string            `json:"title,omitempty"`
	Markdown string            `json:"markdown"`
	Pages    int               `json:"pages"`
	Warnings []string          `json:"warnings,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func registerConvertTool(srv *mcp.Server, c Converter) {
	tool := &mcp.Tool{
		Name:        "convert_document",
		Description: "Convert a document (PDF, Office, spreadsheet, archive, image, markup, data file) to Markdown.",
		InputSchema: inputSchema(map[string]any{
			"path":           map[string]any{"type": "string", "description": "Path of the file to convert"},
			"content_base64": map[string]any{"type": "string", "description": "File content, base64 encoded, instead of path"},
			"filename":       map[string]any{"type": "string", "description": "File name for content_base64, used to detect the format"},
			"merge_tables":   map[string]any{"type": "boolean", "description": "Join tables split across page breaks"},
			"force_ocr":      map[string]any{"type": "boolean", "description": "Render and describe every PDF page"},
		}, nil),
	}

	addTool(srv, tool, func(ctx context.Context, r *convertReq) (any, error) {
		opts := []docmark.ConvertOption{
			docmark.WithMergeTables(r.MergeTables),
			docmark.WithForceOCR(r.ForceOCR),
		}
		var (
			doc *docmark.Document
			err error
		)
		switch {
		case r.Path != "" && r.ContentBase64 != "":
			return nil, errors.New("give either path or content_base64, not both")
		case r.Path != "":
			doc, err = c.Convert(ctx, r.Path, opts...)
		case r.ContentBase64 != "":
			data, derr := base64.StdEncoding.DecodeString(r.ContentBase64)
			if derr != nil {
				return nil, fmt.Errorf("decoding content_base64: %w", derr)
			}
			doc, err = c.ConvertBytes(ctx, data, r.Filename, opts...)
		default:
			return nil, errors.New("path or content_base64 is required")
		}
		if err != nil {
			return nil, err
		}
		return ConvertResult{
			Title:    doc.Title,
			Markdown: doc.Markdown(),
			Pages:    len(doc.Pages),
			Warnings: doc.Warnings,
			Metadata: doc.Metadata,
		}, nil
	})
}

// --- detect_format ---

type detectReq struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

func registerDetectTool(srv *mcp.Server, c Converter) {
	tool := &mcp.Tool{
		Name:        "detect_format",
		Description: "Detect a document's format from its file name and optional content.",
		InputSchema: inputSchema(map[string]any{
			"filename":       map[string]any{"type": "string", "description": "File name"},
			"content_base64": map[string]any{"type": "string", "description": "Leading bytes of the file, base64 encoded"},
		}, []string{"filename"}),
	}

	addTool(srv, tool, func(_ context.Context, r *detectReq) (any, error) {
		data, err := base64.StdEncoding.DecodeString(r.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("decoding content_base64: %w", err)
		}
		format, err := c.Detect(r.Filename, data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"format": format}, nil
	})
}

// --- list_formats ---

type formatsReq struct{}

func registerFormatsTool(srv *mcp.Server, c Converter) {
	tool := &mcp.Tool{
		Name:        "list_formats",
		Description: "List the format identifiers docmark can convert.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	addTool(srv, tool, func(_ context.Context, _ *formatsReq) (any, error) {
		return map[string]any{"formats": c.Formats()}, nil
	})
}
