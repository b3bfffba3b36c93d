package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"emvcli/internal/baseline"
	"emvcli/internal/license"
)

const (
	apiKeyHeader   = "X-API-Key"
	sealPath       = "/api/baselines/seal"
	verifyPath     = "/api/licenses/verify"
	maxBackoff     = 20 * time.Second
	bodyPrefixSize = 200
)

// PermanentError marks a request the server rejected outright (4xx).
// Retrying such a request wastes attempts and hides the real problem,
// so the client fails immediately and the sync engine persists the
// failure without retry.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("client_error:%d:%s", e.StatusCode, e.Body)
}

// Client talks to the central license/audit service. Transient
// failures (5xx, timeouts, connection errors) are retried internally
// with exponential backoff capped at 20 seconds; 4xx responses
// surface as PermanentError with no retry.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxAttempts bounds the total upload attempts per request.
func WithMaxAttempts(attempts int) ClientOption {
	return func(c *Client) { c.http.RetryMax = attempts - 1 }
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.http.HTTPClient.Timeout = timeout }
}

// WithClientLogger sets the logger for request diagnostics.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Client for the given service base URL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.HTTPClient.Timeout = 60 * time.Second
	rc.Logger = nil
	rc.CheckRetry = checkRetry
	rc.Backoff = backoff
	// Hand the final failed response back instead of discarding it,
	// so the server's error text reaches the persisted last_error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    rc,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// checkRetry classifies responses: 5xx and transport errors are
// transient, everything else is final. 4xx is deliberately not
// retried.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode >= 500, nil
}

// backoff sleeps min(2^attempt, 20) seconds between attempts.
func backoff(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
	d := time.Duration(1<<uint(attemptNum+1)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// SealBaseline uploads one bundle: draft metadata as form fields plus
// every raw file, as a single multipart POST. The server endpoint is
// idempotent on baseline_id, so re-uploading after a crash or an
// ambiguous failure is always safe.
func (c *Client) SealBaseline(ctx context.Context, draft *baseline.Draft, rawFiles []string) error {
	body, contentType, err := buildSealBody(draft, rawFiles)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sealPath, body)
	if err != nil {
		return fmt.Errorf("failed to build seal request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("seal upload failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		c.logger.Debug("baseline sealed",
			slog.String("baseline_id", draft.BaselineID))
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error %d: %s", resp.StatusCode, bodyPrefix(resp.Body))
	default:
		return &PermanentError{StatusCode: resp.StatusCode, Body: bodyPrefix(resp.Body)}
	}
}

// VerifyResponse is the online verification result. This path is used
// by server-facing deployments; the field client verifies offline.
type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// VerifyLicense submits a license document for online verification.
func (c *Client) VerifyLicense(ctx context.Context, doc *license.Document) (*VerifyResponse, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize license document: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify request rejected: %d: %s", resp.StatusCode, bodyPrefix(resp.Body))
	}

	var vr VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	return &vr, nil
}

// buildSealBody assembles the multipart payload. The whole body is
// buffered so retryablehttp can rewind it between attempts; bundles
// are sized for field laptops, not bulk archives.
func buildSealBody(draft *baseline.Draft, rawFiles []string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"org_id":           draft.OrgID,
		"project_id":       draft.ProjectID,
		"baseline_id":      draft.BaselineID,
		"created_by":       draft.CreatedBy,
		"meter_ids_csv":    strings.Join(draft.MeterIDs, ","),
		"start_date":       draft.StartDate,
		"end_date":         draft.EndDate,
		"calc_params_json": string(draft.CalcParams),
		"license_id":       draft.LicenseID,
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	for _, path := range rawFiles {
		if err := attachRawFile(w, path); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func attachRawFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open raw file %s: %w", path, err)
	}
	defer f.Close()

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="raw_files"; filename="%s"`, filepath.Base(path)))
	header.Set("Content-Type", "application/octet-stream")

	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create file part for %s: %w", path, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to attach raw file %s: %w", path, err)
	}
	return nil
}

func bodyPrefix(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, bodyPrefixSize))
	return strings.TrimSpace(string(data))
}
