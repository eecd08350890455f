package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/docmark"
	"github.com/brunobiangulo/docmark/storage"
)

func testRouter(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	mem := storage.NewMemory()
	require.NoError(t, mem.Put("docs/intro.md", []byte("# Intro\n\nStored text.")))

	cfg := docmark.DefaultConfig()
	cfg.MaxFileSize = 1 << 10
	engine, err := docmark.New(cfg, docmark.WithStorage(mem))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	return newRouter(newHandler(engine, cfg.MaxFileSize), apiKey, "", nil)
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	router := testRouter(t, "secret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestAuthRequired(t *testing.T) {
	router := testRouter(t, "secret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/formats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/formats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestFormats(t *testing.T) {
	router := testRouter(t, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/formats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Formats []string `json:"formats"`
	}](t, rec)
	assert.Contains(t, resp.Formats, "docx")
	assert.Contains(t, resp.Formats, "zip")
	assert.Contains(t, resp.Formats, "rtf")
	assert.NotContains(t, resp.Formats, "doc")
}

func TestConvertUpload(t *testing.T) {
	router := testRouter(t, "")

	body, ctype := multipartBody(t, "people.csv", []byte("name,age\nAnn,31\n"))
	req := httptest.NewRequest(http.MethodPost, "/convert", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[convertResponse](t, rec)
	assert.Equal(t, "people.csv", resp.Filename)
	assert.Equal(t, 1, resp.Pages)
	assert.Contains(t, resp.Markdown, "| Ann | 31 |")
}

func TestConvertPath(t *testing.T) {
	router := testRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader(`{"path":"docs/intro.md"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[convertResponse](t, rec)
	assert.Equal(t, "intro.md", resp.Filename)
	assert.Contains(t, resp.Markdown, "Stored text.")
}

func TestConvertPathNeedsStorage(t *testing.T) {
	cfg := docmark.DefaultConfig()
	engine, err := docmark.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	conv := pathConverter(engine, cfg)
	require.IsType(t, uploadsOnly{}, conv)
	router := newRouter(newHandler(conv, cfg.MaxFileSize), "", "", nil)

	req := httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader(`{"path":"/etc/hostname"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "path conversion is disabled")

	body, ctype := multipartBody(t, "notes.txt", []byte("uploads still work"))
	req = httptest.NewRequest(http.MethodPost, "/convert", body)
	req.Header.Set("Content-Type", ctype)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode[convertResponse](t, rec).Markdown, "uploads still work")
}

func TestPathConverterWithStorage(t *testing.T) {
	cfg := docmark.DefaultConfig()
	cfg.StorageRoot = t.TempDir()
	engine, err := docmark.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	assert.Same(t, engine, pathConverter(engine, cfg))
}

func TestConvertErrors(t *testing.T) {
	router := testRouter(t, "")

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name: "bad json",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader("{"))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "empty path",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader(`{"path":""}`))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing file",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader(`{"path":"docs/none.md"}`))
			},
			status: http.StatusNotFound,
		},
		{
			name: "unsupported",
			req: func() *http.Request {
				body, ctype := multipartBody(t, "blob.bin", []byte{0x00, 0x01, 0x02, 0xff})
				r := httptest.NewRequest(http.MethodPost, "/convert", body)
				r.Header.Set("Content-Type", ctype)
				return r
			},
			status: http.StatusUnsupportedMediaType,
		},
		{
			name: "too large",
			req: func() *http.Request {
				body, ctype := multipartBody(t, "big.txt", bytes.Repeat([]byte("a"), 2<<10))
				r := httptest.NewRequest(http.MethodPost, "/convert", body)
				r.Header.Set("Content-Type", ctype)
				return r
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tt.req())
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestDetect(t *testing.T) {
	router := testRouter(t, "")

	body, ctype := multipartBody(t, "upload", []byte("%PDF-1.7\n"))
	req := httptest.NewRequest(http.MethodPost, "/detect", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "pdf", decode[map[string]string](t, rec)["format"])
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := corsMiddleware("https://app.example, https://admin.example")(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodOptions, "/convert", nil)
	req.Header.Set("Origin", "https://admin.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/convert", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DOCMARK_VISION_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DOCMARK_MERGE_TABLES", "true")
	t.Setenv("DOCMARK_MAX_FILE_SIZE", "4096")
	t.Setenv("DOCMARK_STORAGE_DB", "/var/lib/docmark/blobs.db")

	cfg := docmark.DefaultConfig()
	applyEnv(&cfg)

	assert.Equal(t, "openai", cfg.Vision.Provider)
	assert.Equal(t, "sk-test", cfg.Vision.APIKey)
	assert.True(t, cfg.MergeTables)
	assert.EqualValues(t, 4096, cfg.MaxFileSize)
	assert.Equal(t, "/var/lib/docmark/blobs.db", cfg.StorageDB)
}
