// Package linkcheck audits the hyperlinks, iframes and video sources of a
// version, upgrading them to https where the secure form answers.
package linkcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Probe is the answer to a HEAD request. Status is the status line, such as
// "HTTP/1.1 404 Not Found", and is empty when nothing answered.
type Probe struct {
	Responded bool
	Code      int
	Status    string
}

// Invalid reports whether the probe counts as a failed link: no response at
// all, or a client or server error status.
func (p Probe) Invalid() bool {
	return !p.Responded || (p.Code >= 400 && p.Code <= 599)
}

// Prober issues a HEAD request for a URL. Transport failures are reported as
// a probe without response, never as an error.
type Prober interface {
	Head(ctx context.Context, rawURL string) Probe
}

// HTTPProber probes over HTTP without following redirects.
type HTTPProber struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
}

func NewHTTPProber(timeout time.Duration, userAgent string) *HTTPProber {
	return &HTTPProber{
		Client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		UserAgent: userAgent,
		Timeout:   timeout,
	}
}

func (p *HTTPProber) Head(ctx context.Context, rawURL string) Probe {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return Probe{}
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Probe{}
	}
	defer func() { _ = resp.Body.Close() }()
	return Probe{Responded: true, Code: resp.StatusCode, Status: resp.Proto + " " + resp.Status}
}

// memoProber shares probe results between the links of one audit run.
// Concurrent probes of the same URL wait for a single request.
type memoProber struct {
	next  Prober
	group singleflight.Group
	mu    sync.Mutex
	seen  map[string]Probe
}

func newMemoProber(next Prober) *memoProber {
	return &memoProber{next: next, seen: map[string]Probe{}}
}

func (m *memoProber) lookup(rawURL string) (Probe, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.seen[rawURL]
	return p, ok
}

func (m *memoProber) Head(ctx context.Context, rawURL string) Probe {
	if p, ok := m.lookup(rawURL); ok {
		return p
	}
	v, _, _ := m.group.Do(rawURL, func() (any, error) {
		if p, ok := m.lookup(rawURL); ok {
			return p, nil
		}
		p := m.next.Head(ctx, rawURL)
		// A probe cut short by cancellation says nothing about the link.
		if ctx.Err() == nil {
			m.mu.Lock()
			m.seen[rawURL] = p
			m.mu.Unlock()
		}
		return p, nil
	})
	return v.(Probe)
}
