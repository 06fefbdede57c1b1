// Package server orchestrates a remoting host: NATS client, registration tables, activation services, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/remoting/internal/config"
	"github.com/morezero/remoting/pkg/activation"
	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/commsutil"
	"github.com/morezero/remoting/pkg/db"
	"github.com/morezero/remoting/pkg/dispatcher"
	"github.com/morezero/remoting/pkg/events"
	"github.com/morezero/remoting/pkg/identity"
	"github.com/morezero/remoting/pkg/registry"
	"github.com/morezero/remoting/pkg/remoting"
	"github.com/morezero/remoting/pkg/types"
)

const logPrefix = "server:server"

// registryForServer is the part of the registry the HTTP handlers read.
type registryForServer interface {
	Health(ctx context.Context) *registry.HealthOutput
	Snapshot() *registry.Snapshot
}

// Server is the remoting host orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	reg        registryForServer
	svc        *activation.Services
	hosts      *registry.HostPool
}

// Run starts a host serving typs, blocks until a shutdown signal, then cleans up.
// Types are registered before well-known services are published.
func Run(typs ...*types.Type) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &Server{cfg: cfg}
	if err := s.start(ctx, typs); err != nil {
		return multierr.Append(err, s.shutdown())
	}
	return s.serve(ctx)
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// start connects every component. Whatever it opened is released by shutdown.
func (s *Server) start(ctx context.Context, typs []*types.Type) error {
	cfg := s.cfg
	hostID := cfg.HostID
	if hostID == "" {
		hostID = identity.DefaultHostID()
	}
	slog.Info(fmt.Sprintf("%s - Starting remoting host %s", logPrefix, hostID))

	// Step 1: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	// Step 2: Connect to database when registrations live there
	var repo *db.Repository
	if cfg.UsesDB() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool
		repo = db.NewRepository(pool)

		if cfg.RunMigrations {
			migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrations); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
			if err := db.SeedRegistration(ctx, pool, cfg.RegistrationFile); err != nil {
				return fmt.Errorf("%s - failed to seed registrations: %w", logPrefix, err)
			}
		}
	}

	// Step 3: Load registration tables
	reg := registry.New(registry.Params{
		Repo:             repo,
		Source:           cfg.RegistrationSource,
		RegistrationFile: cfg.RegistrationFile,
	})
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("%s - failed to load registrations: %w", logPrefix, err)
	}
	s.reg = reg

	// Step 4: Remoting and activation services
	s.hosts = registry.NewHostPool(channel.NewNATSTransport(nc, cfg.RequestTimeout), reg, cfg.COMMSName, cfg.RequestTimeout)
	rs := remoting.New(remoting.Config{
		Table:     identity.NewTable(hostID),
		Transport: s.hosts,
		Leases:    events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalSubject: cfg.LeaseSubject}),
	})
	for _, typ := range typs {
		if err := rs.Catalog().Register(typ); err != nil {
			return fmt.Errorf("%s - failed to register type: %w", logPrefix, err)
		}
	}
	s.svc = activation.New(activation.Config{
		Remoting:     rs,
		Registration: reg,
		Trust:        activation.DefaultTrust(cfg.TrustedAttributePackages...),
	})

	// Step 5: Serve inbound requests on this host's subject
	rs.SetHandler(dispatcher.NewDispatcher(s.svc))
	if err := rs.EnsureListening(); err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, commsutil.BuildHostSubject(hostID), err)
	}
	slog.Info(fmt.Sprintf("%s - Listening on %s", logPrefix, commsutil.BuildHostSubject(hostID)))

	if err := s.svc.Start(ctx); err != nil {
		return fmt.Errorf("%s - failed to start activation services: %w", logPrefix, err)
	}
	return nil
}

// serve runs the HTTP endpoint until ctx is cancelled or the listener fails.
func (s *Server) serve(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.cfg.ListenAddr(), Handler: s.routes()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))
		return s.shutdown()
	})

	slog.Info(fmt.Sprintf("%s - Remoting host is ready", logPrefix))
	err := g.Wait()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// shutdown releases every component start opened, in reverse order.
func (s *Server) shutdown() error {
	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HealthCheckTimeout)
		err = multierr.Append(err, s.httpServer.Shutdown(ctx))
		cancel()
	}
	if s.svc != nil {
		err = multierr.Append(err, s.svc.Remoting().Close())
	}
	if s.hosts != nil {
		s.hosts.CloseAll()
	}
	if s.nc != nil {
		err = multierr.Append(err, s.nc.Drain())
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", s.handleReady())
	mux.HandleFunc("/identities", s.handleIdentities())
	mux.HandleFunc("/connection", s.handleConnection())
	return mux
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.reg.Health(ctx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != dispatcher.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

// handleReady reports ready once well-known services are published.
func (s *Server) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.svc.Started() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": dispatcher.StatusStarting})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

type identitiesOutput struct {
	HostID     string           `json:"hostId"`
	Count      int              `json:"count"`
	Identities []identity.Entry `json:"identities"`
}

func (s *Server) handleIdentities() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		table := s.svc.Remoting().Table()
		out := identitiesOutput{HostID: table.HostID(), Count: table.Count(), Identities: table.Entries()}
		if out.Identities == nil {
			out.Identities = []identity.Entry{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// handleConnection tells clients where to send requests for this host.
func (s *Server) handleConnection() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		hostID := s.svc.Remoting().HostID()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"commsUrl": s.cfg.COMMSURL,
			"hostId":   hostID,
			"subject":  commsutil.BuildHostSubject(hostID),
		})
	}
}

// homePageTemplate is the HTML for the host home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Remoting Host {{.HostID}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>Remoting Host {{.HostID}}</h1>
  <p class="meta">Host health, registration tables and published identities.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Database: <span class="stat">{{.Health.Checks.Database}}</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Registrations</h2>
    <p>Tables: <span class="stat">{{.Registration}}</span> from {{.Health.Source}}</p>
    <table>
      <thead><tr><th>Table</th><th>Entries</th></tr></thead>
      <tbody>
        <tr><td>Activated services</td><td>{{.Health.Counts.ActivatedServices}}</td></tr>
        <tr><td>Well-known services</td><td>{{.Health.Counts.WellKnownServices}}</td></tr>
        <tr><td>Activated clients</td><td>{{.Health.Counts.ActivatedClients}}</td></tr>
        <tr><td>Well-known clients</td><td>{{.Health.Counts.WellKnownClients}}</td></tr>
        <tr><td>Remote hosts</td><td>{{.Health.Counts.RemoteHosts}}</td></tr>
      </tbody>
    </table>
  </section>

  <section>
    <h2>Identities</h2>
    {{if not .Identities}}
    <p>No identities published.</p>
    {{else}}
    <table>
      <thead><tr><th>URI</th><th>Kind</th><th>Type</th><th>Mode</th><th>URL</th></tr></thead>
      <tbody>
        {{range .Identities}}
        <tr><td>{{.URI}}</td><td>{{.Kind}}</td><td>{{.TypeName}}</td><td>{{.Mode}}</td><td>{{.URL}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	HostID       string
	Health       *registry.HealthOutput
	Registration string
	Identities   []identity.Entry
}

// handleHome returns an HTTP handler for the host home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		table := s.svc.Remoting().Table()
		data := homeData{
			HostID:     table.HostID(),
			Health:     s.reg.Health(ctx),
			Identities: table.Entries(),
		}
		if snap := s.reg.Snapshot(); snap != nil {
			data.Registration = snap.Name
			if !snap.LoadedAt.IsZero() {
				data.Registration += " (loaded " + snap.LoadedAt.UTC().Format(time.RFC3339) + ")"
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
