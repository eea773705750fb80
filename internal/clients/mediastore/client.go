package mediastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/drivewatch/drivewatch/internal/lib/detection"
)

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the opaque media backend. Persisting analyzed media is a
// three-step sequence: generate a write URL, PUT the raw bytes, then invoke
// the analyze action referencing the stored object.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
}

// NewClient creates a mediastore client for the given backend base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// NewClientWithHTTPDoer creates a client with an injectable HTTP doer.
func NewClientWithHTTPDoer(baseURL string, doer HTTPDoer) *Client {
	return &Client{baseURL: baseURL, httpClient: doer}
}

// UploadTicket is the backend's grant for a single media write.
type UploadTicket struct {
	UploadURL string `json:"upload_url"`
	StorageID string `json:"storage_id"`
}

// GenerateUploadURL asks the backend for a short-lived write URL.
func (c *Client) GenerateUploadURL(ctx context.Context) (UploadTicket, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/media/upload-url", nil)
	if err != nil {
		return UploadTicket{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadTicket{}, fmt.Errorf("failed to generate upload URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return UploadTicket{}, fmt.Errorf("upload URL request failed %d: %s", resp.StatusCode, string(body))
	}

	var ticket UploadTicket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		return UploadTicket{}, fmt.Errorf("failed to decode upload ticket: %w", err)
	}
	return ticket, nil
}

// Upload PUTs the raw media bytes to the granted write URL.
func (c *Client) Upload(ctx context.Context, ticket UploadTicket, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, "PUT", ticket.UploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("media upload failed %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Persist records the classification for a previously stored object.
func (c *Client) Persist(ctx context.Context, storageID string, result detection.DetectionResult) error {
	payload, err := json.Marshal(struct {
		StorageID string                    `json:"storage_id"`
		Result    detection.DetectionResult `json:"result"`
	}{StorageID: storageID, Result: result})
	if err != nil {
		return fmt.Errorf("failed to marshal persist payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/media/analyze", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create persist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to persist analysis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("persist request failed %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Store runs the full three-step sequence and returns the storage ID.
func (c *Client) Store(ctx context.Context, data []byte, contentType string, result detection.DetectionResult) (string, error) {
	ticket, err := c.GenerateUploadURL(ctx)
	if err != nil {
		return "", err
	}
	if err := c.Upload(ctx, ticket, data, contentType); err != nil {
		return "", err
	}
	if err := c.Persist(ctx, ticket.StorageID, result); err != nil {
		return "", err
	}
	return ticket.StorageID, nil
}
