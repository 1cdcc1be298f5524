package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/app"
	"github.com/campuscheck/attendance/internal/attendance"
	"github.com/campuscheck/attendance/internal/camera"
	"github.com/campuscheck/attendance/internal/capture"
	"github.com/campuscheck/attendance/internal/cloudinary"
	"github.com/campuscheck/attendance/internal/config"
	"github.com/campuscheck/attendance/internal/events"
	"github.com/campuscheck/attendance/internal/face"
	"github.com/campuscheck/attendance/internal/faceclient"
	"github.com/campuscheck/attendance/internal/handler"
	"github.com/campuscheck/attendance/internal/logger"
	"github.com/campuscheck/attendance/internal/members"
	"github.com/campuscheck/attendance/internal/qrcode"
	"github.com/campuscheck/attendance/internal/reports"
	"github.com/campuscheck/attendance/internal/store"
	"github.com/campuscheck/attendance/internal/worker"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "attendance-api",
		Short: "QR and face verified attendance API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	})
	cmd.AddCommand(migrateCmd(&configPath))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("attendance-api %s\n", version)
		},
	})
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(*configPath, func(db *store.Postgres, log *zap.Logger) error {
				return store.MigrateUp(db.DB(), log)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer")
				}
				steps = n
			}
			return withDB(*configPath, func(db *store.Postgres, log *zap.Logger) error {
				return store.MigrateDown(db.DB(), steps, log)
			})
		},
	})
	return cmd
}

func setup(configPath string) (*config.App, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func withDB(configPath string, fn func(*store.Postgres, *zap.Logger) error) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.Database.Backend != "postgres" {
		return fmt.Errorf("migrations need db.backend postgres, got %q", cfg.Database.Backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := store.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	pg := store.NewPostgres(db, log, cfg.Face.DescriptorLength)
	defer pg.Close()
	return fn(pg, log)
}

func serve(configPath string) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	loc := cfg.Location()
	att := attendance.NewService(infra.Store, infra.Queue, loc, log)

	var uploader members.PhotoUploader
	if cfg.Cloudinary.Enabled() {
		uploader = cloudinary.New(cfg.Cloudinary)
		log.Info("cloudinary configured", zap.String("cloud", cfg.Cloudinary.CloudName))
	} else {
		log.Info("cloudinary not configured, photos are stored as submitted")
	}
	reportSvc := reports.NewService(infra.Store, infra.DashboardCache(), cfg.Reports.DashboardCacheTTL, loc, log)
	memberSvc := members.NewService(infra.Store, uploader, infra.Queue, reportSvc, cfg.Face.DescriptorLength, log)
	eventSvc := events.NewService(infra.Store, loc, log)

	faces := faceclient.New(cfg.Face)
	if cfg.Face.Skip {
		log.Warn("face.skip is set, capture sessions will fail at face verification")
	} else if err := faces.Health(ctx); err != nil {
		log.Warn("face service not available", zap.Error(err))
	}
	cameras := camera.NewRegistry(cfg.Cameras)
	sessions := capture.NewManager(capture.Deps{
		Directory: infra.Store,
		Recorder:  att,
		Decoder:   qrcode.NewDecoder(),
		Matcher:   face.NewService(faces, cfg.Face.MaxFrameWidth),
		Log:       log,
	}, cameras, capture.Options{
		Threshold:        cfg.Face.MatchThreshold,
		DescriptorLength: cfg.Face.DescriptorLength,
		IdleTimeout:      cfg.Capture.IdleTimeout,
		Retention:        cfg.Capture.Retention,
	})

	// an in-memory queue only reaches consumers in this process
	var jobs sync.WaitGroup
	if cfg.Queue.Backend == "memory" {
		w := worker.New(worker.Deps{
			Members:    memberSvc,
			Embedder:   faces,
			Dashboards: reportSvc,
			Events:     eventSvc,
			Log:        log.Named("worker"),
		})
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			if err := w.Run(ctx, infra.Queue, cfg.Worker.DeactivateSchedule); err != nil {
				log.Error("in-process worker stopped", zap.Error(err))
			}
		}()
	}

	checks := make(map[string]handler.HealthCheck)
	for name, fn := range infra.HealthChecks() {
		checks[name] = fn
	}
	h := &handler.Handler{
		Member:     handler.NewMemberHandler(memberSvc),
		Event:      handler.NewEventHandler(eventSvc),
		Attendance: handler.NewAttendanceHandler(att),
		Report:     handler.NewReportHandler(reportSvc),
		Capture:    handler.NewCaptureHandler(sessions, cameras, cfg.Server.MaxFrameBytes),
		Health:     handler.NewHealthHandler(checks),
	}
	router := handler.NewRouter(h, handler.RouterConfig{
		AllowOrigins:    cfg.Server.AllowOrigins,
		RateLimitPerMin: cfg.Server.RateLimitPerMin,
	}, log)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.Strings("cameras", cameras.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server forced shutdown", zap.Error(err))
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Warn("capture sessions did not stop in time", zap.Error(err))
	}
	stop()
	jobs.Wait()
	log.Info("server exited")
	return nil
}
