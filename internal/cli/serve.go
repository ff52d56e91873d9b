package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jonny5532/wagtail-liveedit/internal/config"
	"github.com/jonny5532/wagtail-liveedit/internal/metrics"
	"github.com/jonny5532/wagtail-liveedit/internal/server"
	"github.com/jonny5532/wagtail-liveedit/pkg/document"
	"github.com/jonny5532/wagtail-liveedit/pkg/liveedit"
	"github.com/jonny5532/wagtail-liveedit/pkg/overlay"
	"github.com/jonny5532/wagtail-liveedit/pkg/version"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		noGrpc  bool
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pages and the editing endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, noGrpc, noWatch)
		},
	}

	cmd.Flags().BoolVar(&noGrpc, "no-grpc", false, "disable the gRPC listener")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the model file on change")

	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, noGrpc, noWatch bool) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := newLogger(opts, cfg)

	httpAddr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	grpcAddr := fmt.Sprintf(":%d", cfg.Server.GrpcPort)
	if noGrpc {
		grpcAddr = ""
	}
	log.LogServerStart(httpAddr, grpcAddr, cfg.Database)

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	models, err := config.NewModelSource(cfg.Models, log)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	models.OnReload = func(err error) {
		if err != nil {
			m.RecordModelReload("error")
			return
		}
		m.RecordModelReload("ok")
	}
	if !noWatch {
		go func() {
			if err := models.Watch(ctx); err != nil {
				log.Error("model watcher stopped").Err(err).Send()
			}
		}()
	}

	enabler, err := overlay.NewEnabler(cfg.Enabled)
	if err != nil {
		return err
	}

	svc := liveedit.New(liveedit.Config{
		Models:    models,
		Objects:   document.NewStore(db),
		Revisions: version.NewStore(db),
		Enabler:   enabler,
		AssetBase: cfg.AssetBase,
		Logger:    log.Component("liveedit"),
		Metrics:   m,
	})

	srv := server.New(server.Options{
		HTTPAddr:    httpAddr,
		GrpcAddr:    grpcAddr,
		MetricsPort: cfg.Server.MetricsPort,
		Service:     svc,
		Auth:        cfg,
		Metrics:     m,
		Gatherer:    prometheus.DefaultGatherer,
		Ready:       db.Ping,
		Logger:      log,
	})
	return srv.Run(ctx)
}
