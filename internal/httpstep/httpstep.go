// Package httpstep wraps an async-looking HTTP client on top of [*http.Client]
// so that the ACME order state machine (internal/acme) never blocks a worker
// thread waiting on a response.
//
// [Driver.Issue] starts a request on its own goroutine and returns
// immediately with a [*Pending] handle; the caller suspends its own task via
// [github.com/relayforge/acmed/internal/task.Handle.Await] and is woken, by
// the request's completion callback, with [task.SignalIOComplete]. This is
// the concrete realization of the "HTTP step driver" component: the caller
// always consults [Pending.Result] — and therefore the response headers —
// before classifying the status.
package httpstep

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"

	"github.com/relayforge/acmed/internal/task"
)

// Most of the transport tuning here is inspired by (or taken from)
// komuw-ong's own github.com/komuw/ong/client (a hardened default *http.Client)
// and github.com/komuw/ong/internal/acme's getHttpClient/logRT. The
// SSRF-blocking dialer control is dropped: the ACME directory URL comes from
// operator configuration, not from untrusted request input, so it is not a
// boundary this module needs to defend.
const (
	userAgent   = "acmed/1 (+https://github.com/relayforge/acmed)"
	contentType = "application/jose+json"

	// maxBodySize bounds how much of a response body we will ever buffer.
	// ACME responses (directory/account/order/challenge JSON, and the PEM
	// certificate chain) are all small; this is generous headroom.
	maxBodySize = 3072 * 4 * 5
)

// Result is the outcome of an HTTP request issued through a [Driver].
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Err is set on a transport-level failure (DNS, dial, TLS, timeout, I/O).
	// It is distinct from an ACME server error response, which instead
	// surfaces as a non-2xx StatusCode with a JSON problem body.
	Err error
}

// Pending is a handle to an in-flight request. The caller must not read
// Result until its task has been woken with [task.SignalIOComplete].
type Pending struct {
	mu  sync.Mutex
	res *Result
}

// Result returns the completed result, or nil if the request has not
// completed yet.
func (p *Pending) Result() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res
}

func (p *Pending) set(r *Result) {
	p.mu.Lock()
	p.res = r
	p.mu.Unlock()
}

// Driver issues HTTP requests without blocking the calling task.
type Driver struct {
	client *http.Client
	l      *slog.Logger
}

// New returns a Driver with a hardened, DNS-caching *http.Client.
// timeout bounds a single request; a request that exceeds it counts as one
// failed step against the caller's retry budget (spec §5).
func New(timeout time.Duration, l *slog.Logger) *Driver {
	resolver := &dnscache.Resolver{}
	go func() {
		// Refresh the DNS cache periodically so a long-lived proxy process
		// picks up ACME CA infrastructure changes without restarting.
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 3 * timeout}
	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}

		var conn net.Conn
		for _, ip := range ips {
			conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				break
			}
		}
		return conn, err
	}

	transport := &http.Transport{
		DialContext:           dialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       5 * timeout,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: timeout / 5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Driver{
		client: &http.Client{Transport: &logRoundTripper{transport, l}, Timeout: timeout},
		l:      l,
	}
}

// Issue starts an HTTP request bound to h and returns immediately.
//
// On any synchronous setup failure (malformed method/URL) it returns a
// non-nil error and spawns nothing — this is a step failure the caller
// counts against its retry budget, per spec §4.5. Otherwise the request runs
// on its own goroutine; when it completes, the [Pending]'s Result is set and
// h is woken with [task.SignalIOComplete].
func (d *Driver) Issue(ctx context.Context, h *task.Handle, method, url string, headers http.Header, body []byte) (*Pending, error) {
	var br io.Reader
	if len(body) != 0 {
		br = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, br)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	pend := &Pending{}
	go func() {
		res, doErr := d.client.Do(req)
		result := &Result{}
		if doErr != nil {
			result.Err = doErr
		} else {
			defer func() { _ = res.Body.Close() }()
			b, readErr := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
			result.StatusCode = res.StatusCode
			result.Header = res.Header
			result.Body = b
			result.Err = readErr
		}
		pend.set(result)
		h.Wake(task.SignalIOComplete)
	}()

	return pend, nil
}

// logRoundTripper logs slow or failing requests, mirroring komuw-ong's logRT.
type logRoundTripper struct {
	rt http.RoundTripper
	l  *slog.Logger
}

func (lt *logRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	res, err := lt.rt.RoundTrip(req)

	fields := []any{
		"method", req.Method,
		"url", req.URL.Redacted(),
		"durationMS", time.Since(start).Milliseconds(),
	}
	if err != nil {
		lt.l.Error("acmed_http_client", append(fields, "error", err)...)
	} else if res.StatusCode > 399 {
		lt.l.Error("acmed_http_client", append(fields, "code", res.StatusCode)...)
	}

	return res, err
}
