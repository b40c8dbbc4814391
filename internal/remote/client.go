// Package remote talks to the ERP that can also originate print jobs.
// The client wraps the ERP's JSON endpoints; the poller drives the
// reconciliation cycle against them.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Actief-IT-Services/aits-print-server/internal/printer"
)

const (
	// metadataTimeout bounds the small JSON calls; downloadTimeout
	// bounds document transfers, which can be much larger.
	metadataTimeout = 30 * time.Second
	downloadTimeout = 60 * time.Second
)

// RemoteJob is the job payload the ERP hands out. Content is inline
// base64 or referenced by URL, never both required.
type RemoteJob struct {
	ID          int64                  `json:"id"`
	Name        string                 `json:"name,omitempty"`
	PrinterName string                 `json:"printer_name,omitempty"`
	Content     string                 `json:"content,omitempty"`
	ContentURL  string                 `json:"content_url,omitempty"`
	ContentType string                 `json:"content_type,omitempty"`
	Options     map[string]interface{} `json:"options,omitempty"`
}

// Client is an authenticated HTTP client for the ERP print endpoints.
// Every request carries the bearer key plus the DATABASE header the ERP
// uses for tenant routing.
type Client struct {
	baseURL  string
	database string
	apiKey   string

	httpClient     *http.Client
	downloadClient *http.Client
}

func NewClient(baseURL, database, apiKey string) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		database:       database,
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: metadataTimeout},
		downloadClient: &http.Client{Timeout: downloadTimeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("DATABASE", c.database)
	return req, nil
}

// doJSON executes the request and decodes the response into out. Non-200
// responses become errors carrying the status and a snippet of the body.
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("authentication failed for %s: check api key", req.URL.Path)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("request to %s returned %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}

// FetchPending returns the jobs the ERP has queued for this server. A
// zero serverID asks for all unassigned jobs.
func (c *Client) FetchPending(ctx context.Context, serverID int64) ([]RemoteJob, error) {
	path := "/api/v1/print/jobs/pending"
	if serverID > 0 {
		path = fmt.Sprintf("%s?server_id=%d", path, serverID)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Jobs []RemoteJob `json:"jobs"`
	}
	if err := c.doJSON(req, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// Claim asks the ERP for exclusive ownership of a job. It returns false
// without error when another server won the race; the caller must not
// print or report status for an unclaimed job.
func (c *Client) Claim(ctx context.Context, jobID int64) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/print/jobs/claim", map[string]interface{}{
		"job_id": jobID,
	})
	if err != nil {
		return false, err
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := c.doJSON(req, &result); err != nil {
		return false, err
	}
	return result.Success, nil
}

// UpdateStatus reports a job outcome back to the ERP.
func (c *Client) UpdateStatus(ctx context.Context, jobID int64, status, errorMessage string) error {
	body := map[string]interface{}{
		"job_id": jobID,
		"status": status,
	}
	if errorMessage != "" {
		body["error_message"] = errorMessage
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/print/jobs/update", body)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// Heartbeat advertises this server's identity and printer inventory.
func (c *Client) Heartbeat(ctx context.Context, serverName string, printers []printer.Info) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/print/server/heartbeat", map[string]interface{}{
		"name":     serverName,
		"printers": printers,
	})
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// Register announces this server to the ERP and returns the server id
// the ERP assigned, used to scope subsequent pending-job fetches.
func (c *Client) Register(ctx context.Context, serverName string, printers []printer.Info) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/print/server/register", map[string]interface{}{
		"name":     serverName,
		"printers": printers,
	})
	if err != nil {
		return 0, err
	}

	var result struct {
		Success  bool  `json:"success"`
		ServerID int64 `json:"server_id"`
	}
	if err := c.doJSON(req, &result); err != nil {
		return 0, err
	}
	if !result.Success {
		return 0, fmt.Errorf("registration rejected by remote")
	}
	return result.ServerID, nil
}

// Ping checks reachability and credentials.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/print/ping", nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// DownloadContent fetches document bytes from a content URL. ERP URLs
// get the auth headers; foreign URLs are fetched bare.
func (c *Client) DownloadContent(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	if strings.HasPrefix(url, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("DATABASE", c.database)
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read content body: %w", err)
	}
	return data, nil
}
