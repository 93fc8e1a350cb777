package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"operlog-client/internal/components/chrono"
	"operlog-client/internal/components/telemetry"
	"operlog-client/lib/platforms/operlog/api"
	"operlog-client/lib/platforms/operlog/core"
	"operlog-client/lib/platforms/operlog/history"
	"operlog-client/lib/restyutil"
	"operlog-client/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	dumpHttp   string

	otelTelemetry *telemetry.Telemetry
)

var rootCmd = &cobra.Command{
	Use:   "operlog",
	Short: "operlog is a CLI for reading and writing the operations log.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if dumpHttp != "" {
			debug = true
		}
		telemetry.InitSlog(debug)

		t, err := telemetry.SetupFromEnv(cmd.Context(), "operlog")
		if err != nil {
			slog.Debug("tracing and metrics are disabled", "err", err)
			return
		}
		otelTelemetry = &t
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if otelTelemetry == nil {
			return
		}
		err := otelTelemetry.Shutdown(context.Background())
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err)
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "config.json5", "The config file to read (.json5, .json or .yml).")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging.")
	flags.StringVar(&dumpHttp, "dump-http", "", "A directory to write every http request and response to, implies --debug.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is everything a command needs to talk to the server.
type env struct {
	cfg   Config
	tel   telemetry.API
	clock chrono.API
	dump  telemetry.HttpDumpOutput
}

func setup() env {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	clock, err := chrono.NewStandardImpl(cfg.Timezone)
	if err != nil {
		serviceutil.Fatal("failed to load timezone", err)
	}

	e := env{
		cfg:   cfg,
		tel:   telemetry.SlogAPI{},
		clock: clock,
	}
	if dumpHttp != "" {
		output, err := restyutil.NewFilesystemOutput(dumpHttp)
		if err != nil {
			serviceutil.Fatal("failed to create http dump directory", err)
		}
		e.dump = output
	}
	return e
}

func (e env) apiClient(ctx context.Context) api.Client {
	client, err := core.Connect(ctx, core.ClientOptions{
		BaseUrl:    e.cfg.BaseUrl,
		Username:   e.cfg.Username,
		Password:   e.cfg.Password,
		TokenStore: core.NewFileTokenStore(e.cfg.TokenFile),
		Timeout:    e.cfg.Timeout(),
		HttpDump:   e.dump,
	}, e.tel)
	if err != nil {
		serviceutil.Fatal("failed to connect to operlog", err)
	}
	return api.NewClient(client, e.tel)
}

func (e env) scraper() *history.Scraper {
	scraper, err := history.NewScraper(history.Options{
		BaseUrl:         e.cfg.BaseUrl,
		Username:        e.cfg.Username,
		Password:        e.cfg.Password,
		LoginPath:       e.cfg.History.LoginPath,
		TimestampLayout: e.cfg.History.TimestampLayout,
		RateLimit:       e.cfg.History.RateLimit,
		Timeout:         e.cfg.Timeout(),
		HttpDump:        e.dump,
	}, e.clock, e.tel)
	if err != nil {
		serviceutil.Fatal("failed to create history scraper", err)
	}
	return scraper
}
