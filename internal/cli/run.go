package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/srediag/ipcdemo/adapter"
	"github.com/srediag/ipcdemo/internal/config"
	"github.com/srediag/ipcdemo/internal/logging"
	"github.com/srediag/ipcdemo/pkg/event"
	"github.com/srediag/ipcdemo/pkg/protocol"
	"github.com/srediag/ipcdemo/pkg/transport"
)

var transportShort = map[transport.Kind]string{
	transport.KindPipes:  "Send a message to a child and read its echo over two anonymous pipes",
	transport.KindSHM:    "Hand a message to a child through a shared memory segment and a semaphore",
	transport.KindSocket: "Send a message to a child over a Unix stream socket and read its echo",
}

// NewTransportCommand creates the command running kind. use is the command name, the
// binary name for the standalone demos.
func NewTransportCommand(kind transport.Kind, use string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <message>",
		Short: transportShort[kind],
		Long: transportShort[kind] + `.

Every step is written to stdout as one JSON event per line, by both the parent and the
child. Settings are read from IPCDEMO_* environment variables. The command takes no flags,
so a message starting with "-" is sent as is.`,
		// argument errors are reported on the event stream, not by cobra
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransport(cmd.Context(), kind, args, cmd.OutOrStdout())
		},
	}
}

// runTransport plays this process's role in one run of kind. Every failure has already
// been reported as an error event when it returns.
func runTransport(ctx context.Context, kind transport.Kind, args []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sink := event.NewWriter(out)
	em := event.NewEmitter(sink, transport.DefaultModule(kind))

	if len(args) != 1 {
		em.Errorf("Usage: %s <message>", filepath.Base(os.Args[0]))
		return NewExitError(ExitUsage, fmt.Sprintf("expected exactly one message argument, got %d", len(args)))
	}

	cfg, err := config.Load()
	if err != nil {
		em.Error(err)
		return WrapExitError(ExitUsage, "configuration", err)
	}
	log, err := logging.Setup(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		log.Warn("invalid log level, using default", zap.String("level", cfg.Log.Level), zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	otelAdapter, err := adapter.GlobalOTelAdapter()
	if err != nil {
		log.Warn("otel instruments unavailable", zap.Error(err))
		otelAdapter = adapter.NoopOTelAdapter()
	}

	t, err := transport.New(kind, transport.Options{
		Message: args[0],
		Sink:    sink,
		Config:  cfg,
		Logger:  log.Named("transport"),
		OTel:    otelAdapter,
	})
	if err != nil {
		em.Error(err)
		return WrapExitError(ExitUsage, "transport", err)
	}

	return protocol.Run(ctx, protocol.Options{
		Transport: t,
		Sink:      sink,
		Config:    cfg,
		Logger:    log.Named("protocol"),
		Stdout:    out,
	})
}
