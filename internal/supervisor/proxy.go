// Package supervisor runs a child process against a local reverse proxy
// whose transport observes the API traffic.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// Proxy forwards every local request to the upstream API.
type Proxy struct {
	upstream *url.URL
	rp       *httputil.ReverseProxy
	log      *slog.Logger
}

// NewProxy returns a proxy to upstream that sends requests through transport.
// A nil transport uses http.DefaultTransport.
func NewProxy(upstream string, transport http.RoundTripper, logger *slog.Logger) (*Proxy, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream %q: %w", upstream, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("upstream %q: want an http(s) URL", upstream)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Proxy{upstream: u, log: logger}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			// Let the transport negotiate compression so observed bodies are
			// plain event streams.
			pr.Out.Header.Del("Accept-Encoding")
		},
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler:  p.handleError,
	}
	return p, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		p.log.Debug("proxy request canceled", "path", r.URL.Path)
		w.WriteHeader(499)
		return
	}
	p.log.Warn("proxy upstream error", "path", r.URL.Path, "err", err)
	w.WriteHeader(http.StatusBadGateway)
}

// Serve handles requests on ln until ctx is canceled.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	p.log.Info("proxy listening", "addr", ln.Addr().String(), "upstream", p.upstream.String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// In-flight streams did not drain; cut them so their bodies close.
			_ = server.Close()
			return fmt.Errorf("proxy shutdown: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("proxy http server: %w", err)
	}
}
