package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/pullpilot/pkg/monitor"
	"github.com/helvethink/pullpilot/pkg/ratelimit"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// Client reads the monitor endpoints of a running instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the instance reachable at endpoint, either an
// http(s) URL of the API or a unix:///path socket. Requests are throttled to
// one per second, with bursts of 5.
func NewClient(endpoint *url.URL) *Client {
	log.WithField("endpoint", endpoint.String()).Debug("configuring monitor client..")

	var (
		base      = endpoint.String()
		transport http.RoundTripper
	)

	if endpoint.Scheme == "unix" {
		path := endpoint.Path
		base = "http://unix"
		transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		}
	}

	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: ratelimit.NewThrottledTransport(time.Second, 5, transport),
		},
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "requesting %s", path)
	}
	defer resp.Body.Close() // nolint: errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("requesting %s: unexpected status %d: %s", path, resp.StatusCode, string(body))
	}

	return body, nil
}

// GetConfig returns the effective configuration of the instance, as YAML.
func (c *Client) GetConfig(ctx context.Context) (string, error) {
	b, err := c.get(ctx, "/api/config")
	return string(b), err
}

// GetTelemetry returns a telemetry snapshot.
func (c *Client) GetTelemetry(ctx context.Context) (t monitor.Telemetry, err error) {
	var b []byte
	if b, err = c.get(ctx, "/api/telemetry"); err != nil {
		return
	}

	err = json.Unmarshal(b, &t)

	return
}

// GetUpdateStatus returns the progress of the global run in flight.
func (c *Client) GetUpdateStatus(ctx context.Context) (s schemas.RunStatus, err error) {
	var b []byte
	if b, err = c.get(ctx, "/api/update-status"); err != nil {
		return
	}

	err = json.Unmarshal(b, &s)

	return
}

// GetHistory returns at most limit run logs, most recent first.
func (c *Client) GetHistory(ctx context.Context, limit int) (r schemas.RunLogRecords, err error) {
	var b []byte
	if b, err = c.get(ctx, fmt.Sprintf("/api/history?limit=%d", limit)); err != nil {
		return
	}

	err = json.Unmarshal(b, &r)

	return
}

// StreamTelemetry polls the telemetry every interval and sends it on the
// returned channel until ctx is done. Failures are sent on the error channel.
func (c *Client) StreamTelemetry(ctx context.Context, interval time.Duration) (<-chan monitor.Telemetry, <-chan error) {
	out := make(chan monitor.Telemetry)
	errs := make(chan error, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			t, err := c.GetTelemetry(ctx)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
			} else {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, errs
}
