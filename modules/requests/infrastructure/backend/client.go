package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/modules/requests/services"
)

// Client talks to the source backend over HTTP. It implements both the
// diff and the apply collaborators of the engine.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

type diffRequest struct {
	Action     request.Action  `json:"action"`
	Against    *request.Action `json:"against,omitempty"`
	View       string          `json:"view"`
	WithIssues bool            `json:"with_issues"`
}

type applyRequest struct {
	Action request.Action `json:"action"`
}

func (c *Client) Diff(ctx context.Context, action request.Action, against *request.Action, opts services.DiffOptions) (string, error) {
	body, status, err := c.post(ctx, "/diff", diffRequest{
		Action:     action,
		Against:    against,
		View:       string(opts.View),
		WithIssues: opts.WithIssues,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("backend: diff failed with status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func (c *Client) ValidateTarget(ctx context.Context, action request.Action) error {
	body, status, err := c.post(ctx, "/validate", applyRequest{Action: action})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		return request.NewValidationError(strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("backend: validate failed with status %d: %s", status, strings.TrimSpace(string(body)))
	}
}

func (c *Client) Apply(ctx context.Context, action request.Action) (*request.AcceptInfo, error) {
	body, status, err := c.post(ctx, "/apply", applyRequest{Action: action})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("backend: apply failed with status %d: %s", status, strings.TrimSpace(string(body)))
	}
	var info request.AcceptInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("backend: malformed apply response: %w", err)
	}
	return &info, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("backend: %s: %w", path, err)
	}
	return body, resp.StatusCode, nil
}
