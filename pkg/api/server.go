package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/manager"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/google/uuid"
)

// Config configures the client-facing HTTP server.
type Config struct {
	APIBase        string // default "/api"
	ManagementCode string // required in x-registry-management-code when non-empty
	EnableRBAC     bool
}

// Server is the thin JSON shim between net/http and manager.Manager. It
// owns no state of its own beyond routing and the management-code check.
type Server struct {
	mgr *manager.Manager
	cfg Config
	mux *http.ServeMux
}

// NewServer builds the HTTP mux for the client API and cluster-management
// endpoints. The caller is responsible for serving it (Start) and for
// registering this node's own address with mgr.RegisterPeerAddr so other
// nodes can resolve it once it becomes leader.
func NewServer(mgr *manager.Manager, cfg Config) *Server {
	if cfg.APIBase == "" {
		cfg.APIBase = "/api"
	}
	s := &Server{mgr: mgr, cfg: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	base := strings.TrimRight(s.cfg.APIBase, "/")
	for _, version := range []string{"v1", "v2"} {
		prefix := fmt.Sprintf("%s/%s", base, version)
		s.mux.HandleFunc(prefix+"/projects", s.handleProjects)
		s.mux.HandleFunc(prefix+"/projects/", s.handleProjectScoped)
		s.mux.HandleFunc(prefix+"/entities/", s.handleEntityScoped)
		s.mux.HandleFunc(prefix+"/search", s.handleSearch)
		if s.cfg.EnableRBAC {
			s.mux.HandleFunc(prefix+"/rbac", s.handleRBACList)
			s.mux.HandleFunc(prefix+"/rbac/grant", s.handleRBACGrant)
			s.mux.HandleFunc(prefix+"/rbac/revoke", s.handleRBACRevoke)
		}
	}

	s.mux.HandleFunc("/init", s.managementGuard(s.handleInit))
	s.mux.HandleFunc("/add-learner", s.managementGuard(s.handleAddLearner))
	s.mux.HandleFunc("/change-membership", s.managementGuard(s.handleChangeMembership))
	s.mux.HandleFunc("/metrics", s.managementGuard(s.handleClusterMetrics))
}

// ServeHTTP lets Server itself be used as an http.Handler, e.g. wrapped by
// a request-logging/metrics middleware at the call site.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rw, r)
	metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprint(rw.status)).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start runs the HTTP server on addr until the context is canceled, then
// shuts it down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.WithComponent("api").Info().Msg("shutting down client API server")
		return srv.Shutdown(shutdownCtx)
	}
}

// newEntityID assigns a leader-side id for a freshly proposed entity.
func newEntityID() string { return uuid.New().String() }

// qualifiedName builds the "/"-joined qualified name convention documented
// in pkg/types: parentQN + "/" + name.
func qualifiedName(parentQN, name string) string {
	if parentQN == "" {
		return name
	}
	return parentQN + "/" + name
}

// ensureRead applies the linearizable=true query-parameter read-index
// barrier before a GET is served, per §4.3's read semantics.
func (s *Server) ensureRead(r *http.Request) error {
	if r.URL.Query().Get("linearizable") != "true" {
		return nil
	}
	return s.mgr.EnsureLinearizable()
}
