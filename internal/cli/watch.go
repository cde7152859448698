package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/srediag/ipcdemo/api"
	"github.com/srediag/ipcdemo/internal/config"
	"github.com/srediag/ipcdemo/internal/logging"
	"github.com/srediag/ipcdemo/pkg/event"
	"github.com/srediag/ipcdemo/pkg/health"
	"github.com/srediag/ipcdemo/pkg/monitor"
	"github.com/srediag/ipcdemo/pkg/transport"
)

// WatchOptions holds the flags of the watch command.
type WatchOptions struct {
	MetricsAddr string
	Executable  string
	JSON        bool
}

// NewWatchCommand creates the watch command, which runs a transport under the monitor and
// renders its events.
func NewWatchCommand() *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <transport> <message>",
		Short: "Run a transport as a monitored process and print its events as log lines",
		Long: `Run a transport as a monitored process and print its events as log lines.

The transport is one of pipes, shm or socket. By default ipcctl runs itself; --executable
runs a standalone demo binary instead, passing it only the message. With --metrics-addr the
monitor serves /metrics, /live and /ready while the run lasts. A message starting with "-"
goes after "--".`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, transport.Kind(args[0]), args[1])
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve metrics and health on this address (default $IPCDEMO_METRICS_ADDR)")
	cmd.Flags().StringVar(&opts.Executable, "executable", "", "demo binary to run instead of ipcctl itself")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the events as JSON lines instead of log lines")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitUsage, `bad flag (put "--" before a message starting with "-")`, err)
	})

	return cmd
}

func validKind(kind transport.Kind) bool {
	for _, k := range transport.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, kind transport.Kind, message string) error {
	if !validKind(kind) {
		return NewExitError(ExitUsage, fmt.Sprintf("unknown transport %q: must be one of %v", kind, transport.Kinds))
	}
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitUsage, "configuration", err)
	}
	log, err := logging.Setup(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		log.Warn("invalid log level, using default", zap.String("level", cfg.Log.Level), zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	metrics := monitor.NewMetrics()
	mgr, err := monitor.New(monitor.DefaultPoolSize,
		monitor.WithMetrics(metrics),
		monitor.WithLogger(log.Named("monitor")),
	)
	if err != nil {
		return err
	}
	defer mgr.Close()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		stop, err := serveMetrics(addr, mgr, metrics, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	exe, args := opts.Executable, []string{message}
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return fmt.Errorf("locate ipcctl: %w", err)
		}
		args = []string{string(kind), message}
	}

	module := transport.DefaultModule(kind)
	if err := mgr.Start(ctx, module, exe, args, eventPrinter(cmd, opts)); err != nil {
		return WrapExitError(ExitFailure, "start "+module, err)
	}
	if err := mgr.Wait(ctx, module); err != nil {
		return WrapExitError(ExitFailure, string(kind)+" run failed", err)
	}
	return nil
}

func eventPrinter(cmd *cobra.Command, opts *WatchOptions) api.EventCallback {
	if opts.JSON {
		w := event.NewWriter(cmd.OutOrStdout())
		return func(e event.Event) {
			if e.Kind == event.KindRaw {
				// raw lines have no wire form of their own
				e = event.NewStatus(e.Module, "raw", e.Data, e.PID)
			}
			_ = w.Emit(e)
		}
	}
	return NewRenderer(cmd.OutOrStdout()).Render
}

// serveMetrics exposes the monitor's metrics and health on addr until the returned stop
// function is called.
func serveMetrics(addr string, mgr *monitor.Manager, metrics *monitor.Metrics, log *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	health.Mount(mux, health.NewHandler(mgr, metrics.Registry()))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
