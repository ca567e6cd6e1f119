// Package cloud implements the vendor REST transport. One client serves the
// whole fleet; the access token is process-wide and its absence is handled by
// the caller never constructing a client at all.
package cloud

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/pkg/logger"
)

// statusOK is the vendor envelope code for a successful request.
const statusOK = 100

// maxBodyBytes bounds how much of a status response is read.
const maxBodyBytes = 1 << 20

// Client issues status requests against the vendor endpoint. Requests are
// paced by a client-wide limiter so a large fleet cannot trip the vendor's
// quota.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	log        *logger.Logger
}

// NewClient builds a status client. The token is required; the credential
// gate for the whole transport lives in the caller, not here.
func NewClient(httpClient *http.Client, baseURL, token string, requestsPerMinute int, log *logger.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("cloud base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse cloud base url: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("cloud token is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if log == nil {
		log = logger.NewDefault("cloud-client")
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
		log:        log,
	}, nil
}

// Status fetches and decodes the current device state. Battery is never part
// of this transport's payload.
func (c *Client) Status(ctx context.Context, deviceID string) (reading.CloudStatus, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return reading.CloudStatus{}, fmt.Errorf("device id is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return reading.CloudStatus{}, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/devices/%s/status", c.baseURL, url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return reading.CloudStatus{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reading.CloudStatus{}, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return reading.CloudStatus{}, fmt.Errorf("status request returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return reading.CloudStatus{}, fmt.Errorf("read status body: %w", err)
	}

	st, err := parseStatusBody(body)
	if err != nil {
		return reading.CloudStatus{}, err
	}

	c.log.WithField("device_id", deviceID).Debug("cloud status fetched")
	return st, nil
}

// parseStatusBody decodes the vendor envelope
// {statusCode, message, body: {temperature, humidity}}. Bodies without the
// envelope are treated as the payload itself.
func parseStatusBody(body []byte) (reading.CloudStatus, error) {
	if !gjson.ValidBytes(body) {
		return reading.CloudStatus{}, fmt.Errorf("malformed status body")
	}

	root := gjson.ParseBytes(body)
	payload := root
	if code := root.Get("statusCode"); code.Exists() {
		if code.Int() != statusOK {
			return reading.CloudStatus{}, fmt.Errorf("status endpoint code %d: %s",
				code.Int(), root.Get("message").String())
		}
		payload = root.Get("body")
		if !payload.Exists() {
			return reading.CloudStatus{}, fmt.Errorf("status envelope missing body")
		}
	}

	var st reading.CloudStatus
	if t := payload.Get("temperature"); t.Exists() {
		v := t.Float()
		st.TemperatureC = &v
	}
	if h := payload.Get("humidity"); h.Exists() {
		v := int(h.Int())
		st.HumidityPct = &v
	}
	return st, nil
}
