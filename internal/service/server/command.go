package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	api "github.com/oshokin/alarm-groups/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-groups/internal/config"
	"github.com/oshokin/alarm-groups/internal/logger"
	"github.com/oshokin/alarm-groups/internal/metrics"
	"github.com/oshokin/alarm-groups/internal/service/common"
	"github.com/oshokin/alarm-groups/internal/service/console"
	"github.com/oshokin/alarm-groups/internal/service/processor"
)

// Options controls the alarmd process and configuration.
type Options struct {
	// In is the console input. Defaults to os.Stdin.
	In io.Reader
	// Out receives events and console replies. Defaults to os.Stdout.
	Out io.Writer
	// Ready, when set, receives the bound gRPC and metrics addresses once both listen.
	// The metrics address is empty when metrics are disabled.
	Ready func(grpcAddress, metricsAddress string)
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// MetricsAddress provides an optional override for the metrics HTTP server.
	MetricsAddress string
	// NoConsole disables the stdin read-eval loop regardless of settings.
	NoConsole bool
	// AllowMultiple skips the check for another running alarmd.
	AllowMultiple bool
}

// ErrAlreadyRunning is returned when another alarmd process is found.
var ErrAlreadyRunning = errors.New("another alarmd instance is running")

// shutdownGrace bounds the metrics server shutdown.
const shutdownGrace = 5 * time.Second

// Run starts the daemon and blocks until ctx is canceled, the console input
// ends, a component fails or a fatal scheduler error occurs. A normal stop returns nil.
//
//nolint:funlen // Linear startup sequence reads best in one place.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarmd")

	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	if err = logger.Configure(settings.LogLevel); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	if !opts.AllowMultiple {
		if err = ensureSingleInstance(ctx); err != nil {
			return err
		}
	}

	metrics.Init()

	in, out := streams(opts)

	// Listen before starting anything so address errors surface immediately.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", settings.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.ListenAddress, err)
	}

	var metricsListener net.Listener

	if settings.MetricsAddress != "" {
		metricsListener, err = lc.Listen(ctx, "tcp", settings.MetricsAddress)
		if err != nil {
			_ = lis.Close()

			return fmt.Errorf("listen metrics on %s: %w", settings.MetricsAddress, err)
		}
	}

	// A fatal scheduler error cancels the whole daemon with that error as the cause.
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	svc, err := newService(ctx, settings, out, cancel)
	if err != nil {
		_ = lis.Close()

		if metricsListener != nil {
			_ = metricsListener.Close()
		}

		return err
	}

	transport := api.NewServer(svc.processor, svc.hub)
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(api.UnaryLogger(ctx)),
		grpc.ChainStreamInterceptor(api.StreamLogger(ctx)),
	)
	api.RegisterAlarmServiceServer(grpcServer, transport)

	g, groupCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		logger.InfoKV(ctx, "Alarm daemon listening", "listen_address", lis.Addr().String())

		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}

		return nil
	})

	var (
		metricsServer  *http.Server
		metricsAddress string
	)

	if metricsListener != nil {
		metricsServer = newMetricsServer()
		metricsAddress = metricsListener.Addr().String()

		g.Go(func() error {
			logger.InfoKV(ctx, "Metrics listening", "metrics_address", metricsAddress)

			if err := metricsServer.Serve(metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}

			return nil
		})
	}

	if settings.Console && !opts.NoConsole {
		g.Go(func() error {
			if err := console.New(svc.processor, in, out).Run(groupCtx); err != nil {
				return err
			}

			logger.Info(ctx, "Console closed")
			cancel(nil)

			return nil
		})
	}

	g.Go(func() error {
		<-groupCtx.Done()

		logger.Info(ctx, "Shutting down alarm daemon")

		transport.Close()
		grpcServer.GracefulStop()

		if metricsServer != nil {
			shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer stop()

			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.WarnKV(ctx, "Metrics server shutdown failed", "error", err)
			}
		}

		return nil
	})

	if opts.Ready != nil {
		opts.Ready(lis.Addr().String(), metricsAddress)
	}

	groupErr := g.Wait()

	if err = svc.shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.ErrorKV(ctx, "Group workers did not stop cleanly", "error", err)
	}

	logger.Info(ctx, "Alarm daemon stopped")

	if cause := context.Cause(runCtx); errors.Is(cause, processor.ErrFatal) {
		return cause
	}

	return groupErr
}

// streams resolves console input and event output, serializing writes to the output.
func streams(opts *Options) (io.Reader, io.Writer) {
	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}

	if out == nil {
		out = os.Stdout
	}

	return in, console.NewSyncWriter(out)
}

// loadSettings reads the settings file, falling back to defaults, and applies overrides.
func loadSettings(opts *Options) (*config.Config, error) {
	settings, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.ListenAddress != "" {
		settings.ListenAddress = opts.ListenAddress
	}

	if opts.MetricsAddress != "" {
		settings.MetricsAddress = opts.MetricsAddress
	}

	if err = config.Validate(settings); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return settings, nil
}

// ensureSingleInstance fails when another process runs the same executable.
func ensureSingleInstance(ctx context.Context) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	pids, err := common.OtherInstances(filepath.Base(executable))
	if err != nil {
		// Process listing is best effort on restricted systems.
		logger.WarnKV(ctx, "Unable to check for running instances", "error", err)

		return nil
	}

	if len(pids) > 0 {
		return fmt.Errorf("%w: pids %v", ErrAlreadyRunning, pids)
	}

	return nil
}

// newMetricsServer serves /metrics and /healthz.
func newMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownGrace,
	}
}
