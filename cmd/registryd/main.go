package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/warren/pkg/api"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/manager"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/mirror"
	"github.com/spf13/cobra"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code := 1
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		os.Exit(code)
	}
}

var rootCmd = &cobra.Command{
	Use:     "registryd",
	Short:   "Replicated feature-registry node",
	Version: Version,
	RunE:    runNode,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("http-addr", "0.0.0.0:8000", "bind address for client + peer HTTP")
	flags.String("api-base", "/api", "URL prefix for the client API (exposes /v1 and /v2)")
	flags.String("ext-http-addr", "", "address advertised to peers if reverse-proxied")
	flags.String("node-id", "1", "unique node id")
	flags.String("seeds", "", "comma-separated host:port seeds (DNS allowed: all A records)")
	flags.String("data-dir", "./registryd-data", "data directory for Raft log/stable/snapshot storage")
	flags.Bool("load-db", false, "populate state from the SQL mirror on boot")
	flags.Bool("write-db", false, "enable SQL mirror write-through")
	flags.Bool("no-init", false, "refuse to auto-bootstrap a new cluster")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	flags := rootCmd.Flags()
	level, _ := flags.GetString("log-level")
	jsonOut, _ := flags.GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	metrics.SetVersion(Version)
}

// derivedPorts splits a host:port client address into the three addresses
// this node binds: the client/management HTTP address itself, the Raft
// transport address (port+1, since the Raft Node component hands its wire
// protocol to hashicorp/raft's own TCP transport rather than the
// AppendEntries/Vote/InstallSnapshot-over-HTTP routes spec.md describes
// literally — see DESIGN.md), and the Prometheus/health address (port+2).
func derivedPorts(httpAddr string) (raftAddr, healthAddr string, err error) {
	host, portStr, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return "", "", fmt.Errorf("parse --http-addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", "", fmt.Errorf("parse --http-addr port: %w", err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1)), net.JoinHostPort(host, strconv.Itoa(port+2)), nil
}

func runNode(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	httpAddr, _ := flags.GetString("http-addr")
	apiBase, _ := flags.GetString("api-base")
	extHTTPAddr, _ := flags.GetString("ext-http-addr")
	nodeID, _ := flags.GetString("node-id")
	seeds, _ := flags.GetString("seeds")
	dataDir, _ := flags.GetString("data-dir")
	loadDB, _ := flags.GetBool("load-db")
	writeDB, _ := flags.GetBool("write-db")
	noInit, _ := flags.GetBool("no-init")

	connStr := os.Getenv("CONNECTION_STR")
	managementCode := os.Getenv("RAFT_MANAGEMENT_CODE")
	enableRBAC := os.Getenv("ENABLE_RBAC") != ""

	raftAddr, healthAddr, err := derivedPorts(httpAddr)
	if err != nil {
		logFatalArgs(err)
	}

	logger := log.WithNodeID(nodeID)

	var sink *mirror.Sink
	if writeDB || loadDB {
		if connStr == "" {
			logFatalArgs(fmt.Errorf("--load-db/--write-db require CONNECTION_STR"))
		}
		cfg := mirror.Config{
			ConnectionStr: connStr,
			EntityTable:   envOr("ENTITY_TABLE", "entities"),
			EdgeTable:     envOr("EDGE_TABLE", "edges"),
			RBACTable:     envOr("RBAC_TABLE", "userroles"),
			EnableRBAC:    enableRBAC,
		}
		sink, err = mirror.NewSink(cfg)
		if err != nil {
			return exitWithCode(2, fmt.Errorf("open SQL mirror: %w", err))
		}
		defer sink.Close()
	}

	var mirrorSink manager.MirrorSink
	if writeDB {
		mirrorSink = sink
	}

	mgrCfg := manager.Config{
		NodeID:   nodeID,
		BindAddr: raftAddr,
		ExtAddr:  extHTTPAddr,
		DataDir:  dataDir,
		Mirror:   mirrorSink,
	}
	mgr, err := manager.NewManager(mgrCfg)
	if err != nil {
		return exitWithCode(2, fmt.Errorf("open Raft storage: %w", err))
	}

	if loadDB {
		if err := sink.LoadInto(mgr.Store()); err != nil {
			return exitWithCode(2, fmt.Errorf("load state from SQL mirror: %w", err))
		}
	}

	if err := mgr.Start(); err != nil {
		return exitWithCode(2, fmt.Errorf("start Raft node: %w", err))
	}
	mgr.RegisterPeerAddr(nodeID, advertisedHTTPAddr(httpAddr, extHTTPAddr))

	if !noInit && nodeID == "1" && !seedsRespond(seeds) {
		if err := mgr.Bootstrap(); err != nil {
			logger.Warn().Err(err).Msg("bootstrap skipped: cluster already initialized or bootstrap rejected")
		}
	}

	apiServer := api.NewServer(mgr, api.Config{
		APIBase:        apiBase,
		ManagementCode: managementCode,
		EnableRBAC:     enableRBAC,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- apiServer.Start(ctx, httpAddr) }()
	go func() { errCh <- serveHealth(ctx, healthAddr) }()

	logger.Info().
		Str("http_addr", httpAddr).
		Str("raft_addr", raftAddr).
		Str("health_addr", healthAddr).
		Msg("registry node started")
	metrics.RegisterComponent("raft", true, "started")
	metrics.RegisterComponent("registry", true, "started")
	metrics.RegisterComponent("api", true, "started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	cancel()
	if err := mgr.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("raft shutdown failed")
	}
	return nil
}

// advertisedHTTPAddr is what this node publishes to peers for client-API
// redirects: --ext-http-addr if reverse-proxied, otherwise --http-addr
// itself.
func advertisedHTTPAddr(httpAddr, extHTTPAddr string) string {
	if extHTTPAddr != "" {
		return extHTTPAddr
	}
	return httpAddr
}

// seedsRespond is a conservative bootstrap guard: if any seed resolves and
// answers on its Raft port, this node assumes a cluster already exists and
// must be joined as a learner rather than auto-bootstrapped.
func seedsRespond(seeds string) bool {
	if seeds == "" {
		return false
	}
	for _, seed := range strings.Split(seeds, ",") {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		conn, err := net.DialTimeout("tcp", seed, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}

func serveHealth(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
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
		return srv.Shutdown(shutdownCtx)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// logFatalArgs exits with code 1 (bad arguments), per §6's exit-code table.
func logFatalArgs(err error) {
	fmt.Fprintf(os.Stderr, "bad arguments: %v\n", err)
	os.Exit(1)
}

// exitError carries the process exit code §6's table assigns to a
// startup failure (2: storage/mirror open failure) through cobra's
// error-returning RunE back to main, which unwraps it with errors.As.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}
