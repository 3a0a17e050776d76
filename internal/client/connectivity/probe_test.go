package connectivity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func pingServer(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestProbe_PrimaryOnline(t *testing.T) {
	var hits atomic.Int32
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		method = r.Method
		require.Equal(t, "/api/ping", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewProbe(Options{ServerURL: srv.URL, Detector: AlwaysAvailable})
	res := p.Test(context.Background())

	require.True(t, res.IsOnline)
	require.Equal(t, SourcePrimary, res.Source)
	require.NoError(t, res.Err)
	require.Equal(t, http.MethodHead, method)
	require.EqualValues(t, 1, hits.Load())
}

func TestProbe_NoInterfaceSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := pingServer(t, http.StatusOK, &hits)

	p := NewProbe(Options{ServerURL: srv.URL, Detector: DetectorFunc(func() bool { return false })})
	res := p.Test(context.Background())

	require.False(t, res.IsOnline)
	require.ErrorIs(t, res.Err, ErrNoNetwork)
	require.Equal(t, SourceNone, res.Source)
	require.Zero(t, hits.Load())
}

func TestProbe_FallbackAfterPrimaryFailure(t *testing.T) {
	var fallbackHits atomic.Int32
	// any HTTP response from a fallback counts as reachable
	fallback := pingServer(t, http.StatusNotFound, &fallbackHits)

	p := NewProbe(Options{
		ServerURL: deadURL(t),
		Fallbacks: []string{deadURL(t), fallback.URL},
		Detector:  AlwaysAvailable,
		Timeout:   time.Second,
	})
	res := p.Test(context.Background())

	require.True(t, res.IsOnline)
	require.Equal(t, SourceFallback, res.Source)
	require.Equal(t, fallback.URL, res.Endpoint)
	require.EqualValues(t, 1, fallbackHits.Load())
}

func TestProbe_PrimaryNon2xxIsFailure(t *testing.T) {
	srv := pingServer(t, http.StatusServiceUnavailable, nil)

	p := NewProbe(Options{ServerURL: srv.URL, Detector: AlwaysAvailable})
	res := p.Test(context.Background())

	require.False(t, res.IsOnline)
	require.Error(t, res.Err)
}

func TestProbe_AllFailReturnsLastError(t *testing.T) {
	p := NewProbe(Options{
		ServerURL: deadURL(t),
		Fallbacks: []string{"http://127.0.0.1:1/unreachable"},
		Detector:  AlwaysAvailable,
		Timeout:   time.Second,
	})
	res := p.Test(context.Background())

	require.False(t, res.IsOnline)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "127.0.0.1:1")
}

func TestProbe_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewProbe(Options{ServerURL: srv.URL, Detector: AlwaysAvailable, Timeout: 50 * time.Millisecond})
	res := p.Test(context.Background())

	require.False(t, res.IsOnline)
	require.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}

func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hs := health.NewServer()
	hs.SetServingStatus("", status)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	return "grpc://" + lis.Addr().String()
}

func TestProbe_GRPCHealthFallback(t *testing.T) {
	endpoint := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)

	p := NewProbe(Options{
		ServerURL: deadURL(t),
		Fallbacks: []string{endpoint},
		Detector:  AlwaysAvailable,
		Timeout:   2 * time.Second,
	})
	res := p.Test(context.Background())

	require.True(t, res.IsOnline)
	require.Equal(t, SourceFallback, res.Source)
	require.Equal(t, endpoint, res.Endpoint)
}

func TestProbe_GRPCNotServing(t *testing.T) {
	endpoint := startHealthServer(t, healthpb.HealthCheckResponse_NOT_SERVING)

	p := NewProbe(Options{
		ServerURL: deadURL(t),
		Fallbacks: []string{endpoint},
		Detector:  AlwaysAvailable,
		Timeout:   2 * time.Second,
	})
	res := p.Test(context.Background())

	require.False(t, res.IsOnline)
	require.ErrorIs(t, res.Err, ErrUnhealthy)
}

func TestProbe_CacheFreshness(t *testing.T) {
	var hits atomic.Int32
	srv := pingServer(t, http.StatusOK, &hits)
	clock := newClock()

	p := NewProbe(Options{
		ServerURL: srv.URL,
		Detector:  AlwaysAvailable,
		Freshness: 30 * time.Second,
		Clock:     clock.Now,
	})

	_, ok := p.Last()
	require.False(t, ok)
	require.False(t, p.IsFresh())

	first := p.Status(context.Background())
	require.True(t, first.IsOnline)
	require.EqualValues(t, 1, hits.Load())
	require.True(t, p.IsFresh())

	clock.Advance(10 * time.Second)
	cached := p.Status(context.Background())
	require.Equal(t, first.Timestamp, cached.Timestamp)
	require.EqualValues(t, 1, hits.Load())

	clock.Advance(25 * time.Second)
	require.False(t, p.IsFresh())
	again := p.Status(context.Background())
	require.EqualValues(t, 2, hits.Load())
	require.Equal(t, clock.Now(), again.Timestamp)

	last, ok := p.Last()
	require.True(t, ok)
	require.Equal(t, again.Timestamp, last.Timestamp)
}

func TestProbe_DetectCaptivePortal(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "json", body: `{"status":"ok"}`, want: false},
		{name: "html login page", body: `<!DOCTYPE html><html><body>Sign in to WiFi</body></html>`, want: true},
		{name: "html fragment", body: `<HTML>redirect</HTML>`, want: true},
		{name: "plain text", body: `welcome`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewProbe(Options{ServerURL: srv.URL, Detector: AlwaysAvailable})
			require.Equal(t, tt.want, p.DetectCaptivePortal(context.Background()))
		})
	}
}

func TestProbe_DetectCaptivePortal_TransportFailure(t *testing.T) {
	p := NewProbe(Options{ServerURL: deadURL(t), Detector: AlwaysAvailable, Timeout: time.Second})
	require.False(t, p.DetectCaptivePortal(context.Background()))
}

func TestInterfaceDetector(t *testing.T) {
	up := net.Interface{Name: "eth0", Flags: net.FlagUp}
	down := net.Interface{Name: "eth1"}
	lo := net.Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback}
	addr := []net.Addr{&net.IPNet{IP: net.IPv4(10, 0, 0, 2), Mask: net.CIDRMask(24, 32)}}

	tests := []struct {
		name   string
		ifaces []net.Interface
		addrs  map[string][]net.Addr
		err    error
		want   bool
	}{
		{name: "up with address", ifaces: []net.Interface{lo, up}, addrs: map[string][]net.Addr{"eth0": addr, "lo": addr}, want: true},
		{name: "only loopback", ifaces: []net.Interface{lo}, addrs: map[string][]net.Addr{"lo": addr}, want: false},
		{name: "down interface", ifaces: []net.Interface{down}, addrs: map[string][]net.Addr{"eth1": addr}, want: false},
		{name: "up without address", ifaces: []net.Interface{up}, want: false},
		{name: "enumeration error", err: errors.New("boom"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &InterfaceDetector{
				interfaces: func() ([]net.Interface, error) { return tt.ifaces, tt.err },
				addrs: func(i net.Interface) ([]net.Addr, error) {
					return tt.addrs[i.Name], nil
				},
			}
			require.Equal(t, tt.want, d.Available())
		})
	}
}
