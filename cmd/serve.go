package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docscan-ai/docscan/internal/api"
	"github.com/docscan-ai/docscan/internal/billing"
	"github.com/docscan-ai/docscan/internal/entitlement"
	"github.com/docscan-ai/docscan/internal/pipeline"
	"github.com/docscan-ai/docscan/pkg/paymongo"
	"github.com/docscan-ai/docscan/pkg/vision"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document scanning API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "run migrations")
		}

		var visionOpts []vision.Option
		if cfg.Anthropic.RequestsPerSecond > 0 {
			visionOpts = append(visionOpts, vision.WithRateLimit(cfg.Anthropic.RequestsPerSecond, 1))
		}
		client := vision.NewClient(cfg.Anthropic.Key, visionOpts...)

		ledger := entitlement.New(st)
		pipe := pipeline.New(ledger, client, st, pipeline.Config{
			ClassifyModel:    cfg.Anthropic.ClassifyModel,
			ExtractModel:     cfg.Anthropic.ExtractModel,
			MaxExtractTokens: cfg.Anthropic.MaxExtractTokens,
		})

		reconciler := billing.NewReconciler(ledger, cfg.PayMongo.WebhookSecret)
		checkout := paymongo.NewClient(cfg.PayMongo.SecretKey,
			paymongo.WithBaseURL(cfg.PayMongo.BaseURL),
			paymongo.WithRateLimit(5, 2),
		)

		server := api.NewServer(pipe, ledger, st, reconciler, checkout, cfg.PayMongo.SiteURL)
		server.SetAllowedOrigins(cfg.Server.AllowedOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.Handler(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
