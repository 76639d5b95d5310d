package server

// The dev server serves the compiler's resources from memory and pushes an
// update payload over a websocket whenever watched files change.

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/farm-fe/farm-sub000/internal/compiler"
	"github.com/farm-fe/farm-sub000/internal/metrics"
	"github.com/farm-fe/farm-sub000/internal/resource"
	"github.com/farm-fe/farm-sub000/internal/update"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Zap     *zap.Logger
	Metrics *metrics.Metrics

	// Watch the project root and apply changes as they happen
	Watch bool
}

type Server struct {
	compiler *compiler.Compiler
	hub      *Hub
	zap      *zap.Logger
	metrics  *metrics.Metrics
	watch    bool
	handler  http.Handler
}

// New expects the compiler to have compiled once already
func New(c *compiler.Compiler, o Options) *Server {
	z := o.Zap
	if z == nil {
		z = zap.NewNop()
	}
	s := &Server{
		compiler: c,
		hub:      NewHub(z.Named("hmr")),
		zap:      z,
		metrics:  o.Metrics,
		watch:    o.Watch,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	options := s.compiler.Options()
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if options.Server.HmrPath != "" {
		r.Get(options.Server.HmrPath, s.hub.ServeHTTP)
	}
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/*", s.serveResource)
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) serveResource(w http.ResponseWriter, r *http.Request) {
	publicPath := s.compiler.Options().Output.PublicPath
	if !strings.HasSuffix(publicPath, "/") {
		publicPath += "/"
	}
	if !strings.HasPrefix(r.URL.Path, publicPath) {
		http.NotFound(w, r)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, publicPath)
	if name == "" {
		name = "index.html"
	}
	res, ok := s.compiler.Resource(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType(res))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Bytes)))
	w.Write(res.Bytes)
}

func contentType(r *resource.Resource) string {
	switch r.Type {
	case resource.ResourceJs:
		return "text/javascript; charset=utf-8"
	case resource.ResourceCss:
		return "text/css; charset=utf-8"
	case resource.ResourceHtml:
		return "text/html; charset=utf-8"
	case resource.ResourceSourceMap:
		return "application/json"
	}
	if t := mime.TypeByExtension(path.Ext(r.Name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Apply runs an update for the changed paths and sends the payload to every
// client. Paths outside the module graph are ignored.
func (s *Server) Apply(ctx context.Context, paths []string) (*update.Result, error) {
	events := make([]update.Event, len(paths))
	for i, p := range paths {
		events[i] = update.Event{Path: p, Kind: update.Updated}
	}
	result, err := s.compiler.Update(ctx, events)
	if err != nil {
		return nil, err
	}
	if result.Payload.Empty() {
		return result, nil
	}
	msg, err := result.Payload.JSON()
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(msg)
	s.zap.Info("hmr update",
		zap.Strings("updated", result.Payload.Updated),
		zap.Strings("added", result.Payload.Added),
		zap.Strings("removed", result.Payload.Removed),
		zap.Bool("reload", result.Payload.IsReload()))
	return result, nil
}

// Run serves until the context is canceled
func (s *Server) Run(ctx context.Context) error {
	options := s.compiler.Options()
	if s.watch {
		w, err := NewWatcher(options.Root, []string{s.compiler.OutputDir()}, s.zap.Named("watch"), func(paths []string) {
			if _, err := s.Apply(ctx, paths); err != nil {
				s.zap.Error("update failed", zap.Strings("paths", paths), zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(options.Server.Host, strconv.Itoa(options.Server.Port)),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	s.zap.Info("dev server listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errs:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dev server: %w", err)
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
