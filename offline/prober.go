package offline

import (
	"context"
	"fmt"
	"net/http"
)

// Prober actively checks whether the origin is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// HTTPProber issues a HEAD request and treats any non 5xx answer as online.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Probe implements Prober.
func (p HTTPProber) Probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", p.URL, resp.StatusCode)
	}
	return nil
}
