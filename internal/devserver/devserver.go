// Package devserver serves a development build and forwards backend routes according to
// the composed proxy table.
package devserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/bundlecfg/internal/emitter"
	httpmiddleware "github.com/wolfeidau/bundlecfg/internal/http"
	"github.com/wolfeidau/bundlecfg/internal/proxy"
	"github.com/wolfeidau/bundlecfg/internal/telemetry"
)

// ErrTLSUnsupported is returned for a dev server block that asks for https.
var ErrTLSUnsupported = errors.New("https dev server is not supported")

type Options struct {
	// Directory served for requests no proxy rule matches
	StaticDir string
	// Allowed CORS origins, CORS is disabled when empty
	CORSOrigins []string
	// Base transport for upstream requests, http.DefaultTransport when nil
	Transport *http.Transport
	// Wrap the handler with otelhttp spans
	Tracing bool
	Logger  zerolog.Logger
}

type route struct {
	rule  proxy.Rule
	proxy *httputil.ReverseProxy
}

// Server is the development server for one emitted configuration.
type Server struct {
	cfg     emitter.DevServer
	opts    Options
	routes  atomic.Pointer[[]route]
	static  http.Handler
	metrics *telemetry.Metrics
}

// New builds a server for cfg. The proxy table may be replaced later with UpdateRules.
func New(cfg emitter.DevServer, opts Options) (*Server, error) {
	if cfg.HTTPS {
		return nil, ErrTLSUnsupported
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport.(*http.Transport)
	}

	s := &Server{
		cfg:     cfg,
		opts:    opts,
		static:  http.FileServer(http.Dir(opts.StaticDir)),
		metrics: telemetry.GetMetrics(),
	}
	s.UpdateRules(cfg.Proxy)

	return s, nil
}

// UpdateRules swaps the proxy table. In-flight requests finish against the old table.
func (s *Server) UpdateRules(rules []proxy.Rule) {
	routes := make([]route, 0, len(rules))
	for _, rule := range rules {
		routes = append(routes, route{rule: rule, proxy: s.reverseProxy(rule)})
	}
	s.routes.Store(&routes)

	s.opts.Logger.Info().Int("rules", len(routes)).Msg("Proxy table loaded")
}

// Rules returns the active proxy table.
func (s *Server) Rules() []proxy.Rule {
	routes := *s.routes.Load()
	rules := make([]proxy.Rule, len(routes))
	for i, r := range routes {
		rules[i] = r.rule
	}
	return rules
}

func (s *Server) reverseProxy(rule proxy.Rule) *httputil.ReverseProxy {
	transport := s.opts.Transport
	if !rule.Secure && rule.Target.Scheme == "https" {
		transport = transport.Clone()
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{} // #nosec G402 - replaced below for the dev upstream only
		}
		transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402 - secure: false opts out of verification
	}

	attrs := metric.WithAttributes(attribute.String("prefix", rule.Prefix))

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = rule.RewritePath(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.SetURL(rule.Target)
			pr.SetXForwarded()

			if !rule.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.metrics.ProxyErrorsTotal.Add(r.Context(), 1, attrs)
			zerolog.Ctx(r.Context()).Error().Err(err).
				Str("prefix", rule.Prefix).
				Str("target", rule.Target.String()).
				Msg("Proxy request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// Handler returns the request handler with compression, CORS and access logging applied.
func (s *Server) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(s.serve)

	if len(s.opts.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(h)
	}

	if s.cfg.Compress {
		h = gzhttp.GzipHandler(h)
	}

	h = httpmiddleware.AccessLog(s.opts.Logger)(h)

	if s.opts.Tracing {
		h = otelhttp.NewHandler(h, "devserver")
	}

	return h
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	for _, rt := range *s.routes.Load() {
		if rt.rule.Match(r.URL.Path) {
			s.metrics.ProxyRequestsTotal.Add(r.Context(), 1, metric.WithAttributes(attribute.String("prefix", rt.rule.Prefix)))
			rt.proxy.ServeHTTP(w, r)
			return
		}
	}

	s.static.ServeHTTP(w, r)
}

// Addr is the listen address from the dev server block.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe serves until ctx is cancelled, then drains connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := configureHTTPServer(s.Addr(), s.Handler())

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info().Str("addr", srv.Addr).Str("static", s.opts.StaticDir).Msg("Starting dev server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("dev server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dev server shutdown: %w", err)
	}

	s.opts.Logger.Info().Msg("Dev server stopped")
	return nil
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
