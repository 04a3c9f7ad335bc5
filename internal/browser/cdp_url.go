package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type devtoolsVersionInfo struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ResolveCDPURL turns a DevTools HTTP endpoint (http://host:9222) into the
// browser's webSocketDebuggerUrl. ws:// and wss:// URLs pass through.
func ResolveCDPURL(ctx context.Context, raw string, client *http.Client) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("cdp url is empty")
	}
	if strings.HasPrefix(raw, "ws://") || strings.HasPrefix(raw, "wss://") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse cdp url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported cdp url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("cdp url %q has no host", raw)
	}
	u.Path = "/json/version"
	u.RawQuery = ""

	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("cdp version endpoint returned %s", resp.Status)
	}

	var info devtoolsVersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode cdp version: %w", err)
	}
	ws := strings.TrimSpace(info.WebSocketDebuggerURL)
	if ws == "" {
		return "", fmt.Errorf("cdp version endpoint returned empty webSocketDebuggerUrl")
	}
	return ws, nil
}
