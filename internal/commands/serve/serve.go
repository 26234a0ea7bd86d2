// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serve implements the serve command, which runs the action server.
package serve

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/docrelay/internal/action"
	"github.com/tombee/docrelay/internal/commands/shared"
	"github.com/tombee/docrelay/internal/config"
	"github.com/tombee/docrelay/internal/log"
	"github.com/tombee/docrelay/internal/seal"
	"github.com/tombee/docrelay/internal/server"
	"github.com/tombee/docrelay/internal/tracing"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the action server",
		Long: `Run the HTTP server that implements the Action API for every
configured destination.

Required settings:
  ACTION_HUB_BASE_URL   public URL of this server
  CIPHER_MASTER         state sealing key (see 'docrelay keygen')

A destination is registered when its OAuth client ID and secret are set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")

	return cmd
}

// Run wires the server from cfg and serves until ctx is done.
func Run(ctx context.Context, cfg *config.Config, logOutput io.Writer) error {
	if err := cfg.ValidateServe(); err != nil {
		return shared.NewConfigError("server is not configured", err)
	}

	logCfg := &log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    logOutput,
		AddSource: cfg.Log.AddSource,
	}
	if shared.GetVerbose() {
		logCfg.Level = "debug"
	}
	logger := log.New(logCfg)
	slog.SetDefault(logger)

	sealer, err := seal.New(seal.Mode(cfg.Seal.Mode), cfg.Seal.Key)
	if err != nil {
		return shared.NewConfigError("invalid sealing key", err)
	}

	version, _, _ := shared.GetVersion()
	provider, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "docrelay",
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Writer:         logOutput,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return shared.NewConfigError("failed to set up tracing", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", log.Error(err))
		}
	}()

	registry, err := action.Build(cfg, action.Deps{
		BaseURL: cfg.Server.BaseURL,
		Sealer:  sealer,
		Logger:  logger,
	})
	if err != nil {
		return shared.NewConfigError("failed to build actions", err)
	}
	if len(registry.List()) == 0 {
		logger.Warn("no destinations configured, the action listing is empty")
	}

	srv := server.New(server.Config{
		Listen:          cfg.Server.Listen,
		BaseURL:         cfg.Server.BaseURL,
		Token:           cfg.Server.Token,
		JWTSecret:       cfg.Server.JWTSecret,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Version:         version,
	}, registry, logger)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return shared.NewFailedError("action server failed", err)
	}
	return nil
}
