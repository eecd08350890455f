package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/docmark"
	"github.com/brunobiangulo/docmark/storage"
)

// docConverter is the part of *docmark.Engine the handlers use.
type docConverter interface {
	Convert(ctx context.Context, path string, opts ...docmark.ConvertOption) (*docmark.Document, error)
	ConvertBytes(ctx context.Context, data []byte, name string, opts ...docmark.ConvertOption) (*docmark.Document, error)
	Detect(name string, data []byte) (string, error)
	Formats() []string
}

// errPathsDisabled is returned for path conversions when the server has
// no storage root or blob store.
var errPathsDisabled = errors.New("path conversion is disabled: configure storage_root or storage_db")

// uploadsOnly refuses path conversions. Without a storage root the local
// store would read any file the process can open.
type uploadsOnly struct{ docConverter }

func (uploadsOnly) Convert(context.Context, string, ...docmark.ConvertOption) (*docmark.Document, error) {
	return nil, errPathsDisabled
}

// pathConverter wraps e in uploadsOnly unless path storage is configured.
func pathConverter(e docConverter, cfg docmark.Config) docConverter {
	if cfg.StorageRoot == "" && cfg.StorageDB == "" {
		return uploadsOnly{e}
	}
	return e
}

type handler struct {
	engine     docConverter
	maxUpload  int64
	convertTTL time.Duration
}

func newHandler(e docConverter, maxUpload int64) *handler {
	if maxUpload <= 0 {
		maxUpload = storage.DefaultMaxSize
	}
	return &handler{engine: e, maxUpload: maxUpload, convertTTL: 10 * time.Minute}
}

type imageInfo struct {
	ID          string `json:"id"`
	File        string `json:"file"`
	MIMEType    string `json:"mime_type"`
	Description string `json:"description,omitempty"`
	DataBase64  string `json:"data_base64,omitempty"`
}

type convertResponse struct {
	Filename string            `json:"filename,omitempty"`
	Title    string            `json:"title,omitempty"`
	Markdown string            `json:"markdown"`
	Pages    int               `json:"pages"`
	Warnings []string          `json:"warnings,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Images   []imageInfo       `json:"images,omitempty"`
}

// POST /convert
// Accepts a multipart upload in field "file" or JSON {"path": ...} naming
// a file under the configured storage root.
func (h *handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.convertTTL)
	defer cancel()

	q := r.URL.Query()
	opts := []docmark.ConvertOption{}
	if q.Get("merge_tables") == "true" {
		opts = append(opts, docmark.WithMergeTables(true))
	}
	if q.Get("force_ocr") == "true" {
		opts = append(opts, docmark.WithForceOCR(true))
	}
	if ext := q.Get("format"); ext != "" {
		opts = append(opts, docmark.WithExtension(ext))
	}
	withImages := q.Get("images") == "true"

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)

	// Try multipart upload first
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart request needs a 'file' field")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			slog.Error("reading upload", "error", err)
			return
		}
		safeName := filepath.Base(header.Filename)
		doc, err := h.engine.ConvertBytes(ctx, data, safeName, opts...)
		if err != nil {
			h.convertFailed(w, safeName, err)
			return
		}
		writeJSON(w, http.StatusOK, newConvertResponse(safeName, doc, withImages))
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	doc, err := h.engine.Convert(ctx, req.Path, opts...)
	if err != nil {
		h.convertFailed(w, req.Path, err)
		return
	}
	writeJSON(w, http.StatusOK, newConvertResponse(filepath.Base(req.Path), doc, withImages))
}

func (h *handler) convertFailed(w http.ResponseWriter, name string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errPathsDisabled):
		status = http.StatusForbidden
	case errors.Is(err, docmark.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, storage.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrPathTraversal):
		status = http.StatusBadRequest
	case errors.Is(err, docmark.ErrIO):
		status = http.StatusNotFound
	case errors.Is(err, docmark.ErrParse), errors.Is(err, docmark.ErrEncoding):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, docmark.ErrRecursionLimitExceeded):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	slog.Error("convert error", "name", name, "status", status, "error", err)
	writeError(w, status, err.Error())
}

func newConvertResponse(name string, doc *docmark.Document, withImages bool) convertResponse {
	resp := convertResponse{
		Filename: name,
		Title:    doc.Title,
		Markdown: doc.Markdown(),
		Pages:    len(doc.Pages),
		Warnings: doc.Warnings,
		Metadata: doc.Metadata,
	}
	for _, img := range doc.Images() {
		info := imageInfo{
			ID:          img.ID,
			File:        img.FileName(),
			MIMEType:    img.MIMEType,
			Description: img.Description,
		}
		if withImages {
			info.DataBase64 = base64.StdEncoding.EncodeToString(img.Data)
		}
		resp.Images = append(resp.Images, info)
	}
	return resp
}

// POST /detect
// Accepts a multipart upload in field "file"; only the name and the
// leading bytes are inspected.
func (h *handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart request needs a 'file' field")
		return
	}
	defer file.Close()

	head := make([]byte, 8192)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	name := filepath.Base(header.Filename)
	format, err := h.engine.Detect(name, head[:n])
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"filename": name,
		"format":   format,
	})
}

// GET /formats
func (h *handler) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"formats": h.engine.Formats(),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
