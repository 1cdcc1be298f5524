package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/app"
	"github.com/campuscheck/attendance/internal/config"
	"github.com/campuscheck/attendance/internal/events"
	"github.com/campuscheck/attendance/internal/faceclient"
	"github.com/campuscheck/attendance/internal/logger"
	"github.com/campuscheck/attendance/internal/members"
	"github.com/campuscheck/attendance/internal/reports"
	"github.com/campuscheck/attendance/internal/worker"
)

// The worker enrolls members from their photos, keeps dashboard caches fresh and
// deactivates events whose day has passed.
func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "attendance-worker",
		Short: "Background jobs for the attendance API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	if cfg.Queue.Backend == "memory" {
		log.Warn("queue.backend memory is served by the API process, this worker only runs scheduled jobs")
	}

	loc := cfg.Location()
	face := faceclient.New(cfg.Face)
	if !cfg.Face.Skip {
		if err := face.Health(ctx); err != nil {
			log.Warn("face service not available, enrollments will fail until it is", zap.Error(err))
		} else {
			log.Info("face service connected")
		}
	}

	w := worker.New(worker.Deps{
		Members:    members.NewService(infra.Store, nil, nil, nil, cfg.Face.DescriptorLength, log),
		Embedder:   face,
		Dashboards: reports.NewService(infra.Store, infra.DashboardCache(), cfg.Reports.DashboardCacheTTL, loc, log),
		Events:     events.NewService(infra.Store, loc, log),
		Log:        log,
	})
	return w.Run(ctx, infra.Queue, cfg.Worker.DeactivateSchedule)
}
