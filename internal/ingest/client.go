// Package ingest drives batched, resumable uploads from the manifest into a
// document-processing service.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/manifest/internal/logger"
)

const (
	// pollInterval is the fixed delay between task status checks.
	pollInterval = 5 * time.Second

	// maxPollRetries bounds consecutive transient polling failures before
	// the error surfaces.
	maxPollRetries = 10
)

// Client is the HTTP client for the document-processing service.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	pollTimeout time.Duration
	log         logger.Logger
}

// ClientOptions tunes the Client. Zero durations fall back to defaults.
type ClientOptions struct {
	RequestTimeout time.Duration
	PollTimeout    time.Duration
	// ProxyURL routes all requests through a proxy when non-empty.
	ProxyURL string
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, opts ClientOptions, log logger.Logger) (*Client, error) {
	requestTimeout := opts.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 5 * time.Minute
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = time.Hour
	}

	transport := http.DefaultTransport
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", opts.ProxyURL, err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
		pollTimeout: pollTimeout,
		log:         log,
	}, nil
}

// SplitOptions controls server-side document chunking.
type SplitOptions struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// UploadPayload is the JSON "data" part of an upload request. CustomMetadata
// is positionally aligned with the uploaded file parts.
type UploadPayload struct {
	CollectionName  string                   `json:"collection_name"`
	Blocking        bool                     `json:"blocking"`
	SplitOptions    SplitOptions             `json:"split_options"`
	CustomMetadata  []map[string]interface{} `json:"custom_metadata"`
	GenerateSummary bool                     `json:"generate_summary"`
}

// TaskResult is the decoded terminal response of a server-side task.
type TaskResult struct {
	State           string
	FailedDocuments []interface{}
}

// CreateCollection creates a collection on the service. An "already exists"
// rejection surfaces as an *APIError that IsAlreadyExists recognizes.
func (c *Client) CreateCollection(ctx context.Context, name string, embeddingDim int, schema []map[string]interface{}) error {
	if schema == nil {
		schema = []map[string]interface{}{}
	}
	payload := map[string]interface{}{
		"collection_name":     name,
		"embedding_dimension": embeddingDim,
		"metadata_schema":     schema,
	}

	c.log.LogEvent("debug", "create_collection", logger.F("collection", name))

	if _, err := c.doJSON(ctx, http.MethodPost, "/v1/collection", payload, "create collection"); err != nil {
		return err
	}

	c.log.LogEvent("info", "collection_created", logger.F("collection", name))
	return nil
}

// DeleteCollections removes the named collections from the service.
func (c *Client) DeleteCollections(ctx context.Context, names []string) error {
	c.log.LogEvent("debug", "delete_collections", logger.F("collections", strings.Join(names, ",")))

	if _, err := c.doJSON(ctx, http.MethodDelete, "/v1/collections", names, "delete collections"); err != nil {
		return err
	}

	c.log.LogEvent("info", "collections_deleted", logger.F("collections", strings.Join(names, ",")))
	return nil
}

// ListDocuments returns the set of document names already present in the
// collection, for pre-upload dedup. Each entry's metadata.filename is
// preferred, falling back to document_name.
func (c *Client) ListDocuments(ctx context.Context, collection string) (map[string]struct{}, error) {
	endpoint := fmt.Sprintf("%s/v1/documents?collection_name=%s", c.baseURL, url.QueryEscape(collection))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build list documents request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read list documents response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Op: "list documents", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var decoded struct {
		Documents []struct {
			DocumentName string `json:"document_name"`
			Metadata     struct {
				Filename string `json:"filename"`
			} `json:"metadata"`
		} `json:"documents"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode list documents response: %w", err)
	}

	names := make(map[string]struct{}, len(decoded.Documents))
	for _, doc := range decoded.Documents {
		name := doc.Metadata.Filename
		if name == "" {
			name = doc.DocumentName
		}
		if name != "" {
			names[name] = struct{}{}
		}
	}

	c.log.LogEvent("debug", "documents_listed",
		logger.F("collection", collection),
		logger.F("count", len(names)),
	)
	return names, nil
}

// UploadDocuments posts a batch of files as multipart form data: one part
// named "documents" per file plus a single "data" part carrying the JSON
// payload. Returns the server task id, which may be empty when the server
// processed the batch synchronously. Every opened file handle is closed
// before return on all paths.
func (c *Client) UploadDocuments(ctx context.Context, files []string, payload UploadPayload) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := c.writeUploadBody(writer, files, payload); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/documents", &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.log.LogEvent("debug", "uploading_documents", logger.F("count", len(files)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{Op: "upload", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var decoded map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return "", fmt.Errorf("decode upload response: %w", err)
		}
	}

	return taskIDFrom(decoded), nil
}

// writeUploadBody streams each file and the payload into the multipart
// writer, closing every file it opens.
func (c *Client) writeUploadBody(writer *multipart.Writer, files []string, payload UploadPayload) error {
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="documents"; filename="%s"`,
			escapeQuotes(filepath.Base(path))))
		header.Set("Content-Type", contentTypeFor(path))

		part, err := writer.CreatePart(header)
		if err != nil {
			f.Close()
			return fmt.Errorf("create part for %s: %w", path, err)
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return fmt.Errorf("copy %s: %w", path, err)
		}
		f.Close()
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="data"; filename="payload.json"`)
	header.Set("Content-Type", "application/json")
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create payload part: %w", err)
	}
	if _, err := part.Write(encoded); err != nil {
		return fmt.Errorf("write payload part: %w", err)
	}

	return nil
}

// PollTask blocks until the server reports a terminal state for the task.
// FINISHED returns the result; FAILED and UNKNOWN become *StatusError. Any
// other state means in-progress. Transient errors are retried a bounded
// number of consecutive times; the total wait is capped by the poll timeout.
func (c *Client) PollTask(ctx context.Context, taskID string) (*TaskResult, error) {
	deadline := time.Now().Add(c.pollTimeout)
	transientFailures := 0

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("poll timeout after %v waiting for task %s", c.pollTimeout, taskID)
		}

		result, err := c.fetchTaskStatus(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			transientFailures++
			if transientFailures > maxPollRetries {
				return nil, fmt.Errorf("polling task %s failed %d consecutive times: %w", taskID, transientFailures, err)
			}
			c.log.LogEvent("warn", "poll_retry",
				logger.F("task_id", taskID),
				logger.F("consecutive_failures", transientFailures),
				logger.F("error", err.Error()),
			)
		} else {
			transientFailures = 0

			switch result.State {
			case "FINISHED":
				return result, nil
			case "FAILED", "UNKNOWN":
				return nil, &StatusError{TaskID: taskID, State: result.State}
			}
			c.log.LogEvent("debug", "task_in_progress",
				logger.F("task_id", taskID),
				logger.F("state", result.State),
			)
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) fetchTaskStatus(ctx context.Context, taskID string) (*TaskResult, error) {
	endpoint := fmt.Sprintf("%s/v1/status?task_id=%s", c.baseURL, url.QueryEscape(taskID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read status response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Op: "poll status", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var decoded struct {
		State  string `json:"state"`
		Result struct {
			FailedDocuments []interface{} `json:"failed_documents"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}

	return &TaskResult{
		State:           decoded.State,
		FailedDocuments: decoded.Result.FailedDocuments,
	}, nil
}

// doJSON sends a JSON-bodied request and returns the raw response body.
// Non-2xx responses become *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, op string) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	return raw, nil
}

// taskIDFrom extracts the server task id, accepting the task_id, task, and
// id aliases seen across service versions.
func taskIDFrom(response map[string]interface{}) string {
	for _, key := range []string{"task_id", "task", "id"} {
		if val, ok := response[key].(string); ok && val != "" {
			return val
		}
	}
	return ""
}

// contentTypeFor guesses a MIME type from the file extension.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".html":
		return "text/html"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
