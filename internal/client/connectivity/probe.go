// Package connectivity decides whether the fleet server is reachable.
package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/metrics"
	"github.com/dmitrijs2005/fleetsync/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultFreshness = 30 * time.Second

	SourcePrimary  = "primary"
	SourceFallback = "fallback"
	SourceNone     = "none"

	pingPath       = "/api/ping"
	grpcScheme     = "grpc://"
	maxCaptiveBody = 64 << 10
)

var (
	ErrNoNetwork = errors.New("no usable network interface")
	ErrUnhealthy = errors.New("health check reported not serving")
)

// Result is the outcome of one connectivity test.
type Result struct {
	IsOnline  bool
	Latency   time.Duration
	Err       error
	Timestamp time.Time
	// Source is SourcePrimary, SourceFallback or SourceNone.
	Source string
	// Endpoint that answered, empty when offline.
	Endpoint string
}

type Options struct {
	ServerURL string
	Fallbacks []string
	// CaptiveURL is fetched by DetectCaptivePortal; defaults to the ping
	// endpoint of ServerURL.
	CaptiveURL string
	Timeout    time.Duration
	Freshness  time.Duration

	HTTPClient *http.Client
	Detector   NetworkDetector
	Clock      func() time.Time
	Logger     logging.Logger
	Metrics    *metrics.Metrics
}

// Probe tests reachability of the server and caches the last result.
type Probe struct {
	serverURL  string
	fallbacks  []string
	captiveURL string
	timeout    time.Duration
	freshness  time.Duration

	http     *http.Client
	detector NetworkDetector
	now      func() time.Time
	log      logging.Logger
	metrics  *metrics.Metrics

	mu   sync.RWMutex
	last *Result
}

func NewProbe(o Options) *Probe {
	p := &Probe{
		serverURL:  strings.TrimRight(o.ServerURL, "/"),
		fallbacks:  o.Fallbacks,
		captiveURL: o.CaptiveURL,
		timeout:    o.Timeout,
		freshness:  o.Freshness,
		http:       o.HTTPClient,
		detector:   o.Detector,
		now:        o.Clock,
		log:        o.Logger,
		metrics:    o.Metrics,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.freshness <= 0 {
		p.freshness = DefaultFreshness
	}
	if p.http == nil {
		p.http = &http.Client{}
	}
	if p.detector == nil {
		p.detector = NewInterfaceDetector()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.log == nil {
		p.log = logging.Nop()
	}
	if p.captiveURL == "" {
		p.captiveURL = p.serverURL + pingPath
	}
	return p
}

// Test runs the primary probe and, if it fails, the fallbacks in order.
// The result is cached.
func (p *Probe) Test(ctx context.Context) Result {
	res := p.test(ctx)
	res.Timestamp = p.now()

	p.mu.Lock()
	p.last = &res
	p.mu.Unlock()

	if res.IsOnline {
		p.log.Debug(ctx, "connectivity ok", "source", res.Source, "endpoint", res.Endpoint, "latency", res.Latency)
	} else {
		p.log.Debug(ctx, "connectivity failed", "error", res.Err)
	}
	return res
}

func (p *Probe) test(ctx context.Context) Result {
	if !p.detector.Available() {
		p.metrics.ObserveProbe(SourceNone, false, 0)
		return Result{Source: SourceNone, Err: ErrNoNetwork}
	}

	start := p.now()
	err := p.pingHTTP(ctx, http.MethodHead, p.serverURL+pingPath, true)
	p.metrics.ObserveProbe(SourcePrimary, err == nil, p.now().Sub(start))
	if err == nil {
		return Result{IsOnline: true, Latency: p.now().Sub(start), Source: SourcePrimary, Endpoint: p.serverURL + pingPath}
	}
	lastErr := err

	for _, ep := range p.fallbacks {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		start = p.now()
		err := p.pingFallback(ctx, ep)
		latency := p.now().Sub(start)
		p.metrics.ObserveProbe(SourceFallback, err == nil, latency)
		if err == nil {
			return Result{IsOnline: true, Latency: latency, Source: SourceFallback, Endpoint: ep}
		}
		lastErr = err
	}

	return Result{Source: SourceNone, Err: lastErr}
}

func (p *Probe) pingFallback(ctx context.Context, endpoint string) error {
	if target, ok := strings.CutPrefix(endpoint, grpcScheme); ok {
		return p.pingGRPC(ctx, target)
	}
	return p.pingHTTP(ctx, http.MethodHead, endpoint, false)
}

// pingHTTP sends a bounded request. With requireOK only 2xx counts as
// reachable; otherwise any response does.
func (p *Probe) pingHTTP(ctx context.Context, method, url string, requireOK bool) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if requireOK && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return nil
}

func (p *Probe) pingGRPC(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc client %s: %w", target, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("grpc health %s: %w", target, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health %s: %w (%s)", target, ErrUnhealthy, resp.GetStatus())
	}
	return nil
}

// DetectCaptivePortal fetches the captive URL expecting JSON. An HTML page
// or a body that is not JSON means a portal is intercepting traffic.
// Transport failures return false: that is offline, not captive.
func (p *Probe) DetectCaptivePortal(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.captiveURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptiveBody))
	if err != nil {
		return false
	}
	captive := looksCaptive(body)
	if captive {
		p.log.Warn(ctx, "captive portal detected", "url", p.captiveURL, "status", resp.StatusCode)
	}
	return captive
}

func looksCaptive(body []byte) bool {
	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html") {
		return true
	}
	return !json.Valid(body)
}

// Last returns the most recent result, if any.
func (p *Probe) Last() (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

// IsFresh reports whether the cached result is younger than the freshness window.
func (p *Probe) IsFresh() bool {
	last, ok := p.Last()
	return ok && p.now().Sub(last.Timestamp) < p.freshness
}

// Status returns the cached result when fresh, otherwise runs a new test.
func (p *Probe) Status(ctx context.Context) Result {
	if last, ok := p.Last(); ok && p.now().Sub(last.Timestamp) < p.freshness {
		return last
	}
	return p.Test(ctx)
}

// IsOnline is a shorthand for Status(ctx).IsOnline.
func (p *Probe) IsOnline(ctx context.Context) bool {
	return p.Status(ctx).IsOnline
}
