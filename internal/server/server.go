package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/emrgen/catalog/internal/config"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 30 * time.Second

// Server runs the admin API, the grpc health service and the scheduled tasks.
type Server struct {
	grpcPort string
	httpPort string
	// schedule disables the cron tasks when false; the API still works.
	schedule bool
}

// NewServer creates a new server
func NewServer(grpcPort, httpPort string, schedule bool) *Server {
	return &Server{
		grpcPort: grpcPort,
		httpPort: httpPort,
		schedule: schedule,
	}
}

// Start starts the server and blocks until it is interrupted.
func (s *Server) Start(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logrus.Errorf("error closing connections: %v", err)
		}
	}()

	return s.Serve(ctx, app, waitForSignal)
}

// Serve runs app until stop returns.
func (s *Server) Serve(ctx context.Context, app *App, stop func(ctx context.Context)) error {
	grpcPort := ":" + s.grpcPort
	httpPort := ":" + s.httpPort

	gl, err := net.Listen("tcp", grpcPort)
	if err != nil {
		return err
	}

	rl, err := net.Listen("tcp", httpPort)
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(UnaryServerInterceptors()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	mux, err := NewGateway(app.Catalog, app.Static, app.Executor)
	if err != nil {
		return err
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "PUT"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	restServer := &http.Server{
		Addr:    httpPort,
		Handler: c.Handler(mux),
	}

	// make sure to wait for the servers to stop before exiting
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Info("starting admin api on: ", httpPort)
		if err := restServer.Serve(rl); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("error starting admin api: %v", err)
			}
		}
		logrus.Infof("admin api stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Info("starting grpc server on: ", grpcPort)
		if err := grpcServer.Serve(gl); err != nil {
			logrus.Infof("grpc failed to start: %v", err)
		}
		logrus.Infof("grpc server stopped")
	}()

	if s.schedule {
		if err := app.Executor.Run(); err != nil {
			grpcServer.Stop()
			_ = restServer.Close()
			wg.Wait()
			return err
		}
	}
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	stop(ctx)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	app.Executor.Stop()

	shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	grpcServer.GracefulStop()
	if err := restServer.Shutdown(shutdown); err != nil {
		logrus.Errorf("error stopping admin api: %v", err)
	}

	wg.Wait()

	return nil
}

// waitForSignal blocks until the process is interrupted or ctx is done.
func waitForSignal(ctx context.Context) {
	logrus.Infof("Press Ctrl+C to stop the server")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGTSTP)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		// clean Ctrl+C output
		fmt.Println()
	case <-ctx.Done():
	}
}
