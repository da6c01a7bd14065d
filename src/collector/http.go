package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/username/depositmirror/backend/src/models"
)

// HTTPCollector fetches pages from the upstream's JSON listing endpoint,
// authenticating with the same two session credentials the browser strategy
// injects as cookies, plus the upstream's anti-forgery header.
type HTTPCollector struct {
	cfg    Config
	client *http.Client
}

// NewHTTPCollector builds the HTTP strategy. A nil client falls back to a
// dedicated client bounded by the configured navigation timeout.
func NewHTTPCollector(cfg Config, client *http.Client) *HTTPCollector {
	if client == nil {
		client = &http.Client{Timeout: cfg.NavigateTimeout}
	}
	return &HTTPCollector{cfg: cfg, client: client}
}

// FetchPage issues one authenticated GET and decodes the JSON row array.
func (c *HTTPCollector) FetchPage(ctx context.Context, page int) ([]models.RawRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.pageURL(page), nil)
	if err != nil {
		return nil, &FetchError{Page: page, Reason: ReasonNetwork, Err: err}
	}
	req.Header.Set("Cookie", fmt.Sprintf("XSRF-TOKEN=%s; %s=%s",
		c.cfg.XSRFToken, c.cfg.SessionCookieName, c.cfg.SessionToken))
	req.Header.Set("X-XSRF-TOKEN", c.cfg.XSRFToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		reason := ReasonNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return nil, &FetchError{Page: page, Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == 419: // Laravel's expired-CSRF status
		return nil, &FetchError{Page: page, Reason: ReasonAuth,
			Err: fmt.Errorf("upstream returned status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &FetchError{Page: page, Reason: ReasonNetwork,
			Err: fmt.Errorf("upstream returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Page: page, Reason: ReasonNetwork, Err: err}
	}

	var rows []models.RawRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &FetchError{Page: page, Reason: ReasonDecode, Err: err}
	}
	for i := range rows {
		rows[i].Page = page
		rows[i].RowIndex = i
	}
	return rows, nil
}

// Close releases idle upstream connections.
func (c *HTTPCollector) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
