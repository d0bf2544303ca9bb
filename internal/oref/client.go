// Package oref fetches alert data from the Pikud HaOref endpoints: the
// real-time broadcast of the currently active alert and the alert history
// feed. Both serve local Israel timestamps and require browser-like request
// headers.
package oref

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRealTimeURL serves the currently active alert, or an empty
	// body when nothing is active.
	DefaultRealTimeURL = "https://www.oref.org.il/warningMessages/alert/Alerts.json"
	// DefaultHistoryURL serves recent alerts, newest first.
	DefaultHistoryURL = "https://alerts-history.oref.org.il/Shared/Ajax/GetAlarmsHistory.aspx?lang=he&mode=3"

	requestTimeout = 10 * time.Second
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Client fetches the real-time and history feeds.
type Client struct {
	httpClient  *http.Client
	realTimeURL string
	historyURL  string
	logger      *zap.Logger
}

// NewClient creates a feed client. Empty URLs select the production
// endpoints.
func NewClient(realTimeURL, historyURL string, logger *zap.Logger) *Client {
	if realTimeURL == "" {
		realTimeURL = DefaultRealTimeURL
	}
	if historyURL == "" {
		historyURL = DefaultHistoryURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		realTimeURL: realTimeURL,
		historyURL:  historyURL,
		logger:      logger.Named("oref"),
	}
}

// FetchRealTime returns the currently active alert broadcast, or nil when
// no alert is active.
func (c *Client) FetchRealTime(ctx context.Context) (*RealTimeMessage, error) {
	body, err := c.get(ctx, c.realTimeURL)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var message RealTimeMessage
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, fmt.Errorf("parse real-time payload: %w", err)
	}
	if len(message.Areas) == 0 {
		return nil, nil
	}
	return &message, nil
}

// FetchHistory returns recent alerts, one entry per affected area.
func (c *Client) FetchHistory(ctx context.Context) ([]Alert, error) {
	body, err := c.get(ctx, c.historyURL)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var alerts []Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		return nil, fmt.Errorf("parse history payload: %w", err)
	}
	return alerts, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// The endpoints reject requests that do not look like the official site.
	req.Header.Set("Referer", "https://www.oref.org.il/")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("fetch %s: status %d: %s", url, resp.StatusCode, snippet)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return sanitize(body), nil
}

// The real-time feed prefixes its body with a UTF-8 BOM and pads idle
// responses with whitespace.
func sanitize(body []byte) []byte {
	body = bytes.TrimPrefix(body, utf8BOM)
	return bytes.TrimSpace(body)
}
