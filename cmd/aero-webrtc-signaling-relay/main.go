package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error   { return &exitError{code: 2, err: err} }
func runtimeError(err error) error { return &exitError{code: 1, err: err} }

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "aero-webrtc-signaling-relay",
		Short: "WebSocket signaling relay for browser WebRTC peers",
		// Bare invocation serves, taking the same flags as `serve`.
		DisableFlagParsing: true,
		Args:               cobra.ArbitraryArgs,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), args)
		},
	}
	root.AddCommand(newServeCommand(), newTokenCommand(), newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [flags]",
		Short: "Run the signaling relay",
		Long: "Run the signaling relay. Flags default to their environment variables and an " +
			"optional TOML file given by --config; run `serve --help` for the full list.",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), args)
		},
	}
}

func newTokenCommand() *cobra.Command {
	var req auth.TokenRequest
	var secret string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 credential for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return usageError(errors.New("--secret (or JWT_SECRET) is required"))
			}
			tok, err := auth.IssueToken(secret, req)
			if err != nil {
				return usageError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret (defaults to JWT_SECRET)")
	f.StringVar(&req.Subject, "subject", "", "subject claim (sub)")
	f.StringVar(&req.Email, "email", "", "email claim")
	f.StringVar(&req.Issuer, "issuer", os.Getenv("JWT_ISSUER"), "issuer claim (iss)")
	f.StringVar(&req.Audience, "audience", os.Getenv("JWT_AUDIENCE"), "audience claim (aud)")
	f.DurationVar(&req.TTL, "ttl", 0, "token lifetime; 0 means no exp claim")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			commit, built := resolveBuildInfo(buildCommit, buildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "commit=%s build_time=%s\n", commit, built)
		},
	}
}

func runServe(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return usageError(err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return usageError(err)
	}
	slog.SetDefault(logger)

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return usageError(fmt.Errorf("configure auth: %w", err))
	}

	var turnREST *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turnREST, err = turnrest.NewGenerator(turnrest.GeneratorConfig{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTLSeconds:     cfg.TURNREST.TTLSeconds,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			return usageError(fmt.Errorf("configure turn rest: %w", err))
		}
	}

	logger.Info("starting aero-webrtc-signaling-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"config_file", cfg.ConfigFile,
		"max_connections", cfg.MaxConnections,
		"signaling_ws_ping_interval", cfg.SignalingWSPingInterval,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"signaling_send_queue_bytes", cfg.SignalingSendQueueBytes,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", turnREST != nil,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration; /webrtc/ice and /readyz will report it", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return runtimeError(fmt.Errorf("listen: %w", err))
	}

	m := metrics.New()
	rl := relay.New(relay.NewRegistry(relay.NewTopicIndex(), cfg.MaxConnections), m, logger)

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Options{
		Verifier: verifier,
		Metrics:  m,
		TURNREST: turnREST,
	})

	sigCfg := signaling.ConfigFrom(cfg)
	sigCfg.Relay = rl
	sigCfg.Verifier = verifier
	sigCfg.Metrics = m
	sigCfg.Logger = logger
	sig := signaling.NewServer(sigCfg)
	sig.RegisterRoutes(srv.Mux())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server exited: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_started")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Stop accepting first; hijacked WebSockets are not tracked by
		// http.Server and are drained by the signaling server.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
		}
		if err := sig.Shutdown(shutdownCtx); err != nil {
			logger.Error("signaling shutdown incomplete", "err", err, "connections", rl.Registry().Len())
		}
		logger.Info("shutdown_complete")
		return nil
	})

	if err := g.Wait(); err != nil {
		return runtimeError(err)
	}
	return nil
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
