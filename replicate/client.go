package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.replicate.com/v1"

// ErrMissingToken is returned when no API token is configured. Jobs hitting
// this fail immediately with no retry.
var ErrMissingToken = errors.New("missing Replicate API token; set MEDIAGEN_REPLICATE_TOKEN or save one from the settings dashboard")

// APIError is any non-success response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// TimeoutError means the polling budget ran out before the remote task
// reached a terminal status.
type TimeoutError struct {
	Elapsed      time.Duration
	PredictionID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("prediction timed out after %ds (id=%s)", int(e.Elapsed.Seconds()), e.PredictionID)
}

// Prediction is the remote task snapshot. Output shapes vary per model, so it
// stays untyped until ExtractOutputURL normalizes it.
type Prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  any    `json:"error"`
}

// ErrorText renders the remote error field, which may be a string or a
// structured object.
func (p *Prediction) ErrorText() string {
	switch e := p.Error.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

// Client is a minimal Replicate REST client (no SDK), covering the
// create/poll/upload protocol every orchestrator shares.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		token:   strings.TrimSpace(token),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any) ([]byte, int, error) {
	if c.token == "" {
		return nil, 0, ErrMissingToken
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// CreatePrediction submits a remote task. Model identifiers are either
// "owner/name" or "owner/name:version". Unpinned models are run by name
// first; if the provider does not support that for the model (404), the
// latest version is resolved with a secondary lookup and the creation call is
// retried against the generic predictions endpoint.
func (c *Client) CreatePrediction(ctx context.Context, model string, input map[string]any) (*Prediction, error) {
	if name, version, ok := strings.Cut(model, ":"); ok {
		return c.createByVersion(ctx, version, input, name)
	}

	body, status, err := c.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("%s/models/%s/predictions", c.baseURL, model),
		map[string]any{"input": input})
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		version, err := c.resolveLatestVersion(ctx, model)
		if err != nil {
			return nil, err
		}
		return c.createByVersion(ctx, version, input, model)
	}
	if status >= 400 {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var pred Prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("could not decode prediction response: %w", err)
	}
	return &pred, nil
}

func (c *Client) createByVersion(ctx context.Context, version string, input map[string]any, model string) (*Prediction, error) {
	body, status, err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/predictions",
		map[string]any{"version": version, "input": input})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var pred Prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("could not decode prediction response for %s: %w", model, err)
	}
	return &pred, nil
}

func (c *Client) resolveLatestVersion(ctx context.Context, model string) (string, error) {
	body, status, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/models/%s", c.baseURL, model), nil)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", &APIError{StatusCode: status, Body: string(body)}
	}

	var out struct {
		LatestVersion struct {
			ID string `json:"id"`
		} `json:"latest_version"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("could not decode model lookup for %s: %w", model, err)
	}
	if out.LatestVersion.ID == "" {
		return "", fmt.Errorf("model %s has no resolvable version", model)
	}
	return out.LatestVersion.ID, nil
}

// GetPrediction performs a single status check.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	body, status, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/predictions/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var pred Prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("could not decode prediction %s: %w", id, err)
	}
	return &pred, nil
}

// WaitForPrediction polls until the remote status turns terminal or the
// timeout budget is exhausted. Elapsed time is measured from just before the
// first poll, and the budget is checked strictly after each poll, so a slow
// final poll that crosses the boundary still returns a terminal result.
// onTick is invoked on every poll; a panic inside it is logged and polling
// continues.
func (c *Client) WaitForPrediction(ctx context.Context, id string, timeout, interval time.Duration, onTick func(*Prediction, time.Duration)) (*Prediction, error) {
	start := time.Now()
	for {
		pred, err := c.GetPrediction(ctx, id)
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(start)

		if onTick != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("onTick callback failed for prediction %s: %v", id, r)
					}
				}()
				onTick(pred, elapsed)
			}()
		}

		switch strings.ToLower(pred.Status) {
		case "succeeded", "failed", "canceled":
			return pred, nil
		}

		if elapsed >= timeout {
			return nil, &TimeoutError{Elapsed: elapsed, PredictionID: id}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// UploadFile pushes binary input to the provider's file storage and returns a
// dereferenceable URI, for models that take file references instead of inline
// data URIs.
func (c *Client) UploadFile(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	if c.token == "" {
		return "", ErrMissingToken
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("content", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		URLs struct {
			Get string `json:"get"`
		} `json:"urls"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("could not decode file upload response: %w", err)
	}
	if out.URLs.Get == "" {
		return "", fmt.Errorf("file upload for %s returned no URI", filename)
	}
	return out.URLs.Get, nil
}

// ExtractOutputURL normalizes the heterogeneous output shapes models return:
// a bare URL string, a list whose first element is a string or a URL-bearing
// map, or a URL-bearing map. Returns false when nothing recognizable matches.
func ExtractOutputURL(output any) (string, bool) {
	switch v := output.(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case []any:
		if len(v) == 0 {
			return "", false
		}
		switch first := v[0].(type) {
		case string:
			if first == "" {
				return "", false
			}
			return first, true
		case map[string]any:
			return urlFromMap(first)
		}
	case map[string]any:
		return urlFromMap(v)
	}
	return "", false
}

func urlFromMap(m map[string]any) (string, bool) {
	for _, key := range []string{"url", "video", "image"} {
		if s, ok := m[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
