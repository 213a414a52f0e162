package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/manifest/internal/logger"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(server.URL, ClientOptions{
		RequestTimeout: 10 * time.Second,
		PollTimeout:    30 * time.Second,
	}, logger.NewNoOpLogger())
	require.NoError(t, err)
	return client
}

func TestClient_CreateCollection(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	err := client.CreateCollection(context.Background(), "documents", 2048, nil)
	require.NoError(t, err)

	assert.Equal(t, "/v1/collection", gotPath)
	assert.Equal(t, "documents", gotBody["collection_name"])
	assert.EqualValues(t, 2048, gotBody["embedding_dimension"])
	schema, ok := gotBody["metadata_schema"].([]interface{})
	require.True(t, ok, "metadata_schema defaults to an empty array, not null")
	assert.Empty(t, schema)
}

func TestClient_CreateCollection_AlreadyExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail": "collection already exists"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	err := client.CreateCollection(context.Background(), "documents", 2048, nil)

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.True(t, IsAlreadyExists(err))
}

func TestClient_DeleteCollections(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	require.NoError(t, client.DeleteCollections(context.Background(), []string{"a", "b"}))

	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/collections", gotPath)
	assert.Equal(t, []string{"a", "b"}, gotBody)
}

func TestClient_ListDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/documents", r.URL.Path)
		assert.Equal(t, "reports", r.URL.Query().Get("collection_name"))
		w.Write([]byte(`{"documents": [
			{"metadata": {"filename": "a.pdf"}, "document_name": "ignored"},
			{"metadata": {}, "document_name": "b.txt"},
			{"metadata": {}, "document_name": ""}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	names, err := client.ListDocuments(context.Background(), "reports")
	require.NoError(t, err)

	assert.Len(t, names, 2)
	assert.Contains(t, names, "a.pdf", "metadata.filename is preferred")
	assert.Contains(t, names, "b.txt", "document_name is the fallback")
}

func TestClient_UploadDocuments_MultipartShape(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "report.pdf")
	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-fake"), 0644))
	require.NoError(t, os.WriteFile(txtPath, []byte("hello"), 0644))

	type part struct {
		formName    string
		fileName    string
		contentType string
		content     string
	}
	var parts []part

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reader, err := r.MultipartReader()
		require.NoError(t, err)
		for {
			p, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			content, err := io.ReadAll(p)
			require.NoError(t, err)
			parts = append(parts, part{
				formName:    p.FormName(),
				fileName:    p.FileName(),
				contentType: p.Header.Get("Content-Type"),
				content:     string(content),
			})
		}
		w.Write([]byte(`{"task_id": "task-123"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	payload := UploadPayload{
		CollectionName: "reports",
		SplitOptions:   SplitOptions{ChunkSize: 512, ChunkOverlap: 150},
		CustomMetadata: []map[string]interface{}{
			{"acl": "user::rw-"},
			{},
		},
		GenerateSummary: true,
	}

	taskID, err := client.UploadDocuments(context.Background(), []string{pdfPath, txtPath}, payload)
	require.NoError(t, err)
	assert.Equal(t, "task-123", taskID)

	require.Len(t, parts, 3)

	assert.Equal(t, "documents", parts[0].formName)
	assert.Equal(t, "report.pdf", parts[0].fileName)
	assert.Equal(t, "application/pdf", parts[0].contentType)
	assert.Equal(t, "%PDF-fake", parts[0].content)

	assert.Equal(t, "documents", parts[1].formName)
	assert.Equal(t, "notes.txt", parts[1].fileName)
	assert.Equal(t, "text/plain", parts[1].contentType)

	assert.Equal(t, "data", parts[2].formName)
	assert.Equal(t, "application/json", parts[2].contentType)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(parts[2].content), &decoded))
	assert.Equal(t, "reports", decoded["collection_name"])
	assert.Equal(t, true, decoded["generate_summary"])
	split := decoded["split_options"].(map[string]interface{})
	assert.EqualValues(t, 512, split["chunk_size"])
	assert.EqualValues(t, 150, split["chunk_overlap"])
	metadata := decoded["custom_metadata"].([]interface{})
	require.Len(t, metadata, 2, "custom_metadata aligns positionally with the file parts")
}

func TestClient_UploadDocuments_ServerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"detail": "overloaded"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.UploadDocuments(context.Background(), []string{path}, UploadPayload{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "overloaded")
}

func TestClient_UploadDocuments_MissingFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be sent when a file cannot be opened")
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.UploadDocuments(context.Background(),
		[]string{filepath.Join(t.TempDir(), "absent.txt")}, UploadPayload{})
	assert.Error(t, err)
}

func TestTaskIDFrom_Aliases(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]interface{}
		expected string
	}{
		{"task_id", map[string]interface{}{"task_id": "t1"}, "t1"},
		{"task alias", map[string]interface{}{"task": "t2"}, "t2"},
		{"id alias", map[string]interface{}{"id": "t3"}, "t3"},
		{"task_id wins over aliases", map[string]interface{}{"task_id": "t1", "id": "t3"}, "t1"},
		{"no id", map[string]interface{}{"status": "ok"}, ""},
		{"nil response", nil, ""},
		{"non-string id", map[string]interface{}{"task_id": 7}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, taskIDFrom(tt.response))
		})
	}
}

func TestClient_PollTask_Finished(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/status", r.URL.Path)
		assert.Equal(t, "task-1", r.URL.Query().Get("task_id"))
		w.Write([]byte(`{"state": "FINISHED", "result": {"failed_documents": ["bad.pdf"]}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	result, err := client.PollTask(context.Background(), "task-1")
	require.NoError(t, err)

	assert.Equal(t, "FINISHED", result.State)
	require.Len(t, result.FailedDocuments, 1)
	assert.Equal(t, "bad.pdf", result.FailedDocuments[0])
}

func TestClient_PollTask_TerminalFailures(t *testing.T) {
	for _, state := range []string{"FAILED", "UNKNOWN"} {
		t.Run(state, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"state": "` + state + `"}`))
			}))
			defer server.Close()

			client := newTestClient(t, server)
			_, err := client.PollTask(context.Background(), "task-1")

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, state, statusErr.State)
			assert.Equal(t, "task-1", statusErr.TaskID)
		})
	}
}

func TestClient_PollTask_Cancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state": "PENDING"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.PollTask(ctx, "task-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"doc.pdf", "application/pdf"},
		{"doc.DOCX", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"readme.md", "text/markdown"},
		{"data.csv", "text/csv"},
		{"page.html", "text/html"},
		{"photo.jpeg", "image/jpeg"},
		{"photo.jpg", "image/jpeg"},
		{"archive.zip", "application/octet-stream"},
		{"noext", "application/octet-stream"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, contentTypeFor(tt.path), tt.path)
	}
}

func TestNewClient_InvalidProxy(t *testing.T) {
	_, err := NewClient("http://localhost:8082", ClientOptions{ProxyURL: "://bad"}, logger.NewNoOpLogger())
	assert.Error(t, err)
}
