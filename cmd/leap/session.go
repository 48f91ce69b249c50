package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lightforgemedia/go-leapmq/internal/config"
	"github.com/lightforgemedia/go-leapmq/internal/logging"
	"github.com/lightforgemedia/go-leapmq/pkg/client"
	"github.com/lightforgemedia/go-leapmq/pkg/connection"
	"github.com/lightforgemedia/go-leapmq/pkg/framer"
	"github.com/lightforgemedia/go-leapmq/pkg/metrics"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// session is one CLI invocation: the loaded config, a connected client and
// the optional metrics server.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	client  *client.Client
	metrics *metrics.Metrics
	server  *http.Server
	out     io.Writer
	dropped <-chan error
}

// openSession loads the config and connects. setup, when non-nil, runs
// after the client is built and before it connects, so listeners it
// registers see everything the bridge sends.
func openSession(cmd *cobra.Command, v *viper.Viper, setup func(*session)) (*session, context.Context, context.CancelFunc, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	s := &session{
		cfg:     cfg,
		logger:  logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr),
		metrics: metrics.New(),
		out:     cmd.OutOrStdout(),
	}

	s.client, err = client.NewWithProvider(providerFor(cfg),
		client.WithLogger(s.logger),
		client.WithMetrics(s.metrics),
		client.WithDefaultRequestTimeout(cfg.RequestTimeout),
		client.WithKeepAlive(cfg.KeepAlive, cfg.KeepAliveURL),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	s.dropped = s.watchDisconnect()
	if setup != nil {
		setup(s)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if cfg.MetricsAddr != "" {
		s.serveMetrics(cfg.MetricsAddr)
	}

	connectCtx := ctx
	if cfg.RequestTimeout > 0 {
		var connectCancel context.CancelFunc
		connectCtx, connectCancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer connectCancel()
	}
	if err := s.client.Connect(connectCtx); err != nil {
		s.close()
		cancel()
		return nil, nil, nil, fmt.Errorf("connect: %w", err)
	}
	return s, ctx, cancel, nil
}

func providerFor(cfg config.Config) connection.Provider {
	if cfg.WebSocketURL != "" {
		return &connection.WebSocketProvider{URL: cfg.WebSocketURL}
	}
	p := connection.NewTLSProvider(cfg.Host, cfg.Port, cfg.Credentials())
	p.ServerName = cfg.ServerName
	return p
}

func (s *session) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	s.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		s.logger.Info("Metrics server starting", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

func (s *session) close() {
	if err := s.client.Shutdown(); err != nil {
		s.logger.Debug("Client shutdown", "error", err)
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
}

// print writes msg as one JSON line.
func (s *session) print(msg *model.Message) error {
	data, err := framer.Encode(msg)
	if err != nil {
		return err
	}
	_, err = s.out.Write(data)
	return err
}
