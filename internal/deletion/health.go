package deletion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrUnhealthy is returned by a health check that answered with a
// non-success status.
var ErrUnhealthy = errors.New("health check failed")

// HealthChecker reports whether the database fleet can take more
// deletion load. A nil error means healthy.
type HealthChecker interface {
	Check(ctx context.Context) error
}

const (
	replicaLagMetric = "maxSeries(servers.prod.sync-mysql-node.*.mysql.Seconds_Behind_Master)"
	cpuMetric        = `maxSeries(offset(scale(groupByNode(servers.prod.sync-mysql-node.*.cpu.cpu*.idle,3,"averageSeries"),-1),100))`
)

// checkURL builds a threshold check against base. A base without a
// scheme is served over https.
func checkURL(base, metric string, maxValue int) string {
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	q := url.Values{}
	q.Set("metric", metric)
	q.Set("max", fmt.Sprint(maxValue))
	q.Set("min", "0")
	q.Set("range", "300")
	return strings.TrimRight(base, "/") + "/check?" + q.Encode()
}

// ReplicaLagURL fails when any replica is more than 10 seconds behind.
func ReplicaLagURL(base string) string { return checkURL(base, replicaLagMetric, 10) }

// CPUURL fails when average fleet CPU is above 70%.
func CPUURL(base string) string { return checkURL(base, cpuMetric, 70) }

// HTTPHealthChecker polls threshold-check endpoints. Every URL must
// answer 2xx for the fleet to count as healthy.
type HTTPHealthChecker struct {
	client *http.Client
	urls   []string
}

// NewHTTPHealthChecker checks replica lag and CPU on the service at
// baseURL. A nil client uses a 10 second timeout.
func NewHTTPHealthChecker(baseURL string, client *http.Client) *HTTPHealthChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPHealthChecker{
		client: client,
		urls:   []string{ReplicaLagURL(baseURL), CPUURL(baseURL)},
	}
}

// Check queries every endpoint concurrently.
func (h *HTTPHealthChecker) Check(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range h.urls {
		g.Go(func() error { return h.get(gctx, u) })
	}
	return g.Wait()
}

func (h *HTTPHealthChecker) get(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", ErrUnhealthy, req.URL.Path, resp.StatusCode)
	}
	return nil
}
