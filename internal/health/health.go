package health

import (
	"context"
	"strings"
	"sync"
	"time"

	fastshot "github.com/opus-domini/fast-shot"
)

const (
	defaultTimeout = 2 * time.Second
	defaultTTL     = 60 * time.Second
)

// Status is the outcome of one health probe. Error is set only when
// the probe itself failed (connection refused, timeout); a non-200
// response is unhealthy but not an error.
type Status struct {
	Healthy    bool      `json:"healthy"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Prober checks service health over HTTP and caches results per URL so
// page loads and API polls do not hammer the services themselves.
type Prober struct {
	timeout time.Duration
	ttl     time.Duration
	nowFn   func() time.Time
	probeFn func(ctx context.Context, url string, timeout time.Duration) (int, error)

	mu    sync.Mutex
	cache map[string]Status
}

func NewProber(timeout, ttl time.Duration) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Prober{
		timeout: timeout,
		ttl:     ttl,
		nowFn:   time.Now,
		probeFn: httpProbe,
		cache:   make(map[string]Status),
	}
}

// BuildURL joins a service base URL with its health endpoint path.
func BuildURL(baseURL, endpoint string) string {
	base := strings.TrimRight(baseURL, "/")
	if endpoint == "" {
		return base
	}
	return base + endpoint
}

// Check returns the cached status for url when it is still fresh,
// otherwise probes and caches the result.
func (p *Prober) Check(ctx context.Context, url string) Status {
	now := p.nowFn().UTC()

	p.mu.Lock()
	cached, ok := p.cache[url]
	p.mu.Unlock()
	if ok && now.Sub(cached.CheckedAt) < p.ttl {
		return cached
	}
	return p.Refresh(ctx, url)
}

// Refresh probes url unconditionally and replaces the cached status.
func (p *Prober) Refresh(ctx context.Context, url string) Status {
	status := Status{CheckedAt: p.nowFn().UTC()}
	code, err := p.probeFn(ctx, url, p.timeout)
	if err != nil {
		status.Error = err.Error()
	} else {
		status.StatusCode = code
		status.Healthy = code == 200
	}

	p.mu.Lock()
	p.cache[url] = status
	p.mu.Unlock()
	return status
}

// Forget drops the cached status for url, forcing the next Check to
// probe. Used after a service's URL configuration changes.
func (p *Prober) Forget(url string) {
	p.mu.Lock()
	delete(p.cache, url)
	p.mu.Unlock()
}

func httpProbe(ctx context.Context, url string, timeout time.Duration) (int, error) {
	client := fastshot.NewClient(url).
		Config().SetTimeout(timeout).
		Build()
	resp, err := client.GET("").Context().Set(ctx).Send()
	if err != nil {
		return 0, err
	}
	defer resp.Body().Close()
	return resp.Status().Code(), nil
}
