// Package devserver rebuilds both targets on change and serves them for
// local development with live reload.
package devserver

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/na2hiro/kifubuild/internal/assets"
	"github.com/na2hiro/kifubuild/internal/buildconfig"
	httpmw "github.com/na2hiro/kifubuild/internal/http"
	"github.com/na2hiro/kifubuild/internal/telemetry"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

//go:embed templates
var templates embed.FS

// LoadFunc reads the package metadata and project layout
type LoadFunc func() (buildconfig.Package, buildconfig.Project, error)

type Config struct {
	Flags buildconfig.Flags
	Load  LoadFunc
	// Host to listen on, the port comes from the resolved dev server settings
	Host string
	// WatchFiles trigger a full re-resolve when they change
	WatchFiles []string
}

type Server struct {
	cfg    Config
	broker *Broker
	// newBackOff paces retries when re-reading the project files
	newBackOff func() backoff.BackOff

	mu    sync.RWMutex
	state *state

	// reloadMu serialises reloads and shutdown so only one set of build
	// contexts is ever live
	reloadMu sync.Mutex
	closed   bool
}

// state is everything derived from one resolution of the build targets
type state struct {
	pkg       buildconfig.Package
	project   buildconfig.Project
	targets   [2]buildconfig.BuildTarget
	pipelines []*assets.Pipeline
	contexts  []api.BuildContext
	index     http.HandlerFunc
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	return &Server{
		cfg:    cfg,
		broker: NewBroker(),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Run builds and watches both targets and serves them until ctx is done
func (s *Server) Run(ctx context.Context) error {
	log := zerolog.Ctx(ctx)

	pkg, proj, err := s.cfg.Load()
	if err != nil {
		return err
	}

	st, err := s.start(ctx, pkg, proj)
	if err != nil {
		return err
	}
	s.swap(st)
	defer s.stop()

	port := devPort(st)
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	srv := newHTTPServer(ctx, addr, s.Handler())

	if len(s.cfg.WatchFiles) > 0 {
		go func() {
			if err := s.watchConfig(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Config watcher stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", "http://"+addr+"/").Str("mode", s.cfg.Flags.String()).Msg("Starting dev server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down dev server")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler serves build output under /bundle/, the live reload stream on
// /esbuild, and an index page on /
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/bundle/", http.StripPrefix("/bundle/", dirHandler(s.outputDirs)))
	mux.Handle("/esbuild", s.broker)
	mux.HandleFunc("/{$}", s.serveIndex)

	// bookmarklets run inside third party pages and load scripts from here
	return httpmw.RequestLogger()(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	}).Handler(mux))
}

// Broker exposes the live reload broker
func (s *Server) Broker() *Broker {
	return s.broker
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	st := s.current()
	if st == nil || st.index == nil {
		http.Error(w, "build not ready", http.StatusServiceUnavailable)
		return
	}
	st.index(w, r)
}

func (s *Server) outputDirs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil
	}
	dirs := make([]string, 0, len(s.state.targets))
	for _, t := range s.state.targets {
		dirs = append(dirs, t.OutputDir)
	}
	return dirs
}

// start resolves the targets and begins watching them
func (s *Server) start(ctx context.Context, pkg buildconfig.Package, proj buildconfig.Project) (*state, error) {
	targets := buildconfig.Resolve(s.cfg.Flags, pkg, proj)
	st := &state{pkg: pkg, project: proj, targets: targets}

	for _, t := range targets {
		if t.DevServer == nil {
			zerolog.Ctx(ctx).Warn().Str("target", t.Name).Msg("Serving a production build, live reload disabled")
		}

		p, err := s.pipeline(ctx, proj, t, devPort(st))
		if err != nil {
			disposeAll(st.contexts)
			return nil, err
		}

		buildCtx, err := p.Context()
		if err != nil {
			disposeAll(st.contexts)
			return nil, err
		}

		st.pipelines = append(st.pipelines, p)
		st.contexts = append(st.contexts, buildCtx)
	}

	bundle, bookmarklets := targets[0], targets[1]
	entry, err := filepath.Rel(proj.Root, bundle.EntryPoints[0].Path)
	if err != nil {
		disposeAll(st.contexts)
		return nil, err
	}
	st.index, err = st.pipelines[0].Handler("index.html", buildconfig.LibraryName, filepath.ToSlash(entry), func(context.Context) any {
		urls := make([]string, 0, len(bookmarklets.EntryPoints))
		for _, e := range bookmarklets.EntryPoints {
			urls = append(urls, bookmarklets.PublicPath+bookmarklets.OutputName(e))
		}
		return urls
	})
	if err != nil {
		disposeAll(st.contexts)
		return nil, err
	}

	// build once up front so the state is servable as soon as it is swapped in
	for _, buildCtx := range st.contexts {
		buildCtx.Rebuild()
	}

	for i, buildCtx := range st.contexts {
		if err := buildCtx.Watch(api.WatchOptions{}); err != nil {
			disposeAll(st.contexts)
			return nil, fmt.Errorf("failed to watch %s: %w", targets[i].Name, err)
		}
	}

	return st, nil
}

func (s *Server) pipeline(ctx context.Context, proj buildconfig.Project, t buildconfig.BuildTarget, port int) (*assets.Pipeline, error) {
	cfg := assets.ConfigFor(proj.Root, t)
	if t.DevServer != nil && t.DevServer.LiveReload && t.Library != "" {
		cfg.Banner = reloadScript(port)
	}

	var p *assets.Pipeline
	cfg.OnEnd = func(end assets.BuildEnd) {
		s.rebuilt(ctx, p, end)
	}

	p, err := assets.NewWithTemplateFS(cfg, templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to load dev server templates: %w", err)
	}
	return p, nil
}

// rebuilt records a finished watch build and notifies live reload clients
func (s *Server) rebuilt(ctx context.Context, p *assets.Pipeline, end assets.BuildEnd) {
	log := zerolog.Ctx(ctx)
	telemetry.GetMetrics().RebuildsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", end.Target),
		attribute.Bool("success", end.Errors == 0),
	))

	if end.Errors > 0 {
		log.Warn().Str("target", end.Target).Int("errors", end.Errors).Msg("Rebuild failed, keeping previous output")
		return
	}

	if err := p.Load(end.Metafile); err != nil {
		log.Error().Err(err).Str("target", end.Target).Msg("Failed to load build metadata")
		return
	}

	s.broker.Publish(Change{Target: end.Target, Time: time.Now().UnixMilli()})
}

// reload re-reads the project files and restarts the build contexts. The
// new contexts are started before the old ones are disposed, so a failed
// restart keeps serving the previous configuration.
func (s *Server) reload(ctx context.Context) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.closed {
		return
	}

	log := zerolog.Ctx(ctx)

	type loaded struct {
		pkg  buildconfig.Package
		proj buildconfig.Project
	}

	l, err := backoff.Retry(ctx, func() (loaded, error) {
		pkg, proj, err := s.cfg.Load()
		return loaded{pkg: pkg, proj: proj}, err
	}, backoff.WithBackOff(s.newBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload project settings, keeping previous configuration")
		return
	}

	st, err := s.start(ctx, l.pkg, l.proj)
	if err != nil {
		log.Error().Err(err).Msg("Failed to restart with new settings, keeping previous configuration")
		return
	}

	if previous := s.swap(st); previous != nil {
		disposeAll(previous.contexts)
	}
	log.Info().Str("version", st.pkg.Version).Msg("Reloaded project settings")
}

func (s *Server) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// swap installs st and returns the state it replaced
func (s *Server) swap(st *state) *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.state
	s.state = st
	return previous
}

// stop disposes the live build contexts, later reloads are ignored
func (s *Server) stop() {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.closed = true
	if previous := s.swap(nil); previous != nil {
		disposeAll(previous.contexts)
	}
}

func disposeAll(contexts []api.BuildContext) {
	for _, buildCtx := range contexts {
		buildCtx.Dispose()
	}
}

func devPort(st *state) int {
	if ds := st.targets[0].DevServer; ds != nil {
		return ds.Port
	}
	return st.project.DevPort
}

// reloadScript reloads the page when the dev server reports a rebuild
func reloadScript(port int) string {
	return fmt.Sprintf(`(() => {
  if (typeof EventSource === "undefined") return;
  new EventSource("http://localhost:%d/esbuild").addEventListener("change", () => location.reload());
})();`, port)
}

func newHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	// No write timeout, live reload streams stay open
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
