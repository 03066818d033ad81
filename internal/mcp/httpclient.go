package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/profiles"
	"github.com/claude/repforge/internal/rpe"
	"github.com/claude/repforge/internal/training"
	"github.com/google/uuid"
)

// HTTPClient implements DataSource by calling the RepForge REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// data lives on the remote server (accessed over Tailscale). The server
// resolves the caller's identity, so user IDs are not sent.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, into any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", path, err)
	}
	return nil
}

func timeParams(start, end time.Time) url.Values {
	v := url.Values{}
	v.Set("start", start.Format(time.RFC3339))
	v.Set("end", end.Format(time.RFC3339))
	return v
}

func (c *HTTPClient) RankStatus(ctx context.Context, _ int) (training.RankStatus, error) {
	var st training.RankStatus
	err := c.get(ctx, "/api/v1/rank", nil, &st)
	return st, err
}

func (c *HTTPClient) Recovery(ctx context.Context, _ int, at time.Time) (training.RecoveryView, error) {
	var view training.RecoveryView
	err := c.get(ctx, "/api/v1/recovery", url.Values{"at": {at.Format(time.RFC3339)}}, &view)
	return view, err
}

func (c *HTTPClient) SessionSets(ctx context.Context, _ int, sessionID uuid.UUID) ([]models.SetRow, error) {
	var sets []models.SetRow
	err := c.get(ctx, "/api/v1/sessions/"+sessionID.String()+"/sets", nil, &sets)
	return sets, err
}

func (c *HTTPClient) RecentSets(ctx context.Context, _ int, start, end time.Time, exercise string) ([]models.SetRow, error) {
	params := timeParams(start, end)
	if exercise != "" {
		params.Set("exercise", exercise)
	}
	var sets []models.SetRow
	err := c.get(ctx, "/api/v1/sets", params, &sets)
	return sets, err
}

func (c *HTTPClient) ListExercises(ctx context.Context) ([]profiles.Profile, error) {
	var list []profiles.Profile
	err := c.get(ctx, "/api/v1/exercises", nil, &list)
	return list, err
}

func (c *HTTPClient) RPE(ctx context.Context, lossPct float64, exercise string) (rpe.Estimate, error) {
	params := url.Values{"loss": {strconv.FormatFloat(lossPct, 'f', -1, 64)}}
	if exercise != "" {
		params.Set("exercise", exercise)
	}
	var est rpe.Estimate
	err := c.get(ctx, "/api/v1/rpe", params, &est)
	return est, err
}
