package container

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"
)

// The web image serves a self-signed certificate.
var healthClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	},
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// CheckHealth issues a GET against url and treats any 2xx or 3xx answer as
// healthy. A non-empty host is sent as the Host header so that nginx picks
// the project's server block when url is an IP address.
func CheckHealth(ctx context.Context, url, host string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	if host != "" {
		req.Host = host
	}

	resp, err := healthClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
