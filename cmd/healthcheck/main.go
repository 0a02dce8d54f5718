// Command healthcheck is the container liveness probe. It calls the local
// health endpoint and decodes the body: a gateway that answers but reports a
// bad status is treated as unhealthy, while an unreachable upstream is only
// reported, never fatal, since restarting the gateway cannot fix an upstream
// outage.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// healthBody mirrors the health endpoint's response.
type healthBody struct {
	Status            string `json:"status"`
	UpstreamReachable bool   `json:"upstream_reachable"`
}

func main() {
	if err := check(); err != nil {
		fmt.Fprintln(os.Stderr, "unhealthy:", err)
		os.Exit(1)
	}
}

func check() error {
	addr := probeAddr(os.Getenv("VEGGW_LISTEN_ADDR"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/api/v1/health", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}

	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding health body: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("gateway status %q", body.Status)
	}

	if !body.UpstreamReachable {
		fmt.Fprintln(os.Stderr, "gateway healthy, upstream unreachable")
	}
	return nil
}

// probeAddr maps the server's bind address to something the in-container
// probe can dial: empty or bind-all addresses become loopback.
func probeAddr(raw string) string {
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return "127.0.0.1:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
