package provision

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// Provider acquires and releases the process or container hosting one session.
type Provider interface {
	// Start brings the session up and returns its base URL
	Start(ctx context.Context) (string, error)
	// Stop tears the session down; calling it on a stopped session is a no-op
	Stop(ctx context.Context) error
}

type static struct {
	url string
}

// Static is a Provider for a session that is already running at url.
func Static(url string) Provider {
	return &static{url: strings.TrimRight(url, "/")}
}

func (s *static) Start(ctx context.Context) (string, error) {
	if s.url == "" {
		return "", fmt.Errorf("static provider has no url")
	}
	return s.url, nil
}

func (s *static) Stop(ctx context.Context) error {
	return nil
}

// WaitHealthy polls GET <url>/health every interval until it answers 200 or ctx is done.
func WaitHealthy(ctx context.Context, url string, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	client := &http.Client{Timeout: 2 * time.Second}
	healthURL := strings.TrimRight(url, "/") + "/health"

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	giveUp := func() error {
		return fmt.Errorf("session at %s not healthy: %w (last error: %v)", url, ctx.Err(), lastErr)
	}
	for {
		if ctx.Err() != nil {
			return giveUp()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return fmt.Errorf("health request: %w", err)
		}
		resp, err := client.Do(req)
		switch {
		case err == nil:
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("health returned %s", resp.Status)
		case ctx.Err() != nil:
			// Cut off by our own deadline; the previous failure is the real cause.
			return giveUp()
		default:
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return giveUp()
		case <-ticker.C:
		}
	}
}

// freePort asks the kernel for an unused TCP port on host.
func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func logf(format string, args ...any) {
	log.Printf("provision: "+format, args...)
}
