package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"operlog-client/lib/historystore"
	"operlog-client/lib/platforms/operlog/history"
	"operlog-client/lib/serviceutil"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("operlog.cmd.operlog")

var (
	historyDays int
	historyFrom string
	historyTo   string
	historyDb   string
)

func init() {
	flags := historyCmd.Flags()
	flags.IntVar(&historyDays, "days", 1, "How many days back from now to fetch.")
	flags.StringVar(&historyFrom, "from", "", "Start of the range, a YYYY-MM-DD day or a unix timestamp.")
	flags.StringVar(&historyTo, "to", "", "End of the range, a YYYY-MM-DD day (inclusive) or a unix timestamp, defaults to now.")
	flags.StringVar(&historyDb, "db", "", "A sqlite path or libsql url to archive the records to, defaults to the configured database.")
	historyCmd.MarkFlagsMutuallyExclusive("days", "from")
	historyCmd.MarkFlagsMutuallyExclusive("days", "to")

	rootCmd.AddCommand(historyCmd)
}

// parseBound reads a unix timestamp or a calendar day.
func parseBound(text string) history.Bound {
	ts, err := strconv.ParseInt(text, 10, 64)
	if err == nil {
		return history.FromUnix(ts)
	}
	return history.FromDate(text)
}

func archive(ctx context.Context, dsn string, records []history.Record) {
	db, err := historystore.OpenDB(dsn)
	if err != nil {
		serviceutil.Fatal("failed to open history database", err)
	}
	defer db.Close()

	store, err := historystore.NewStore(ctx, db)
	if err != nil {
		serviceutil.Fatal("failed to prepare history database", err)
	}
	inserted, err := store.Push(ctx, records)
	if err != nil {
		serviceutil.Fatal("failed to archive history", err)
	}
	slog.Info("archived history", "new", inserted, "total", len(records))
}

var historyCmd = &cobra.Command{
	Use:   "history [--days N | --from X [--to Y]] [--db path]",
	Short: "Fetches historical events from the html log view.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		e := setup()
		scraper := e.scraper()

		var records []history.Record
		var err error
		if historyFrom != "" || historyTo != "" {
			from := history.FromTime(e.clock.Now())
			if historyFrom != "" {
				from = parseBound(historyFrom)
			}
			to := history.FromTime(e.clock.Now())
			if historyTo != "" {
				to = parseBound(historyTo)
			}
			records, err = scraper.Fetch(ctx, scraper.Range(from, to))
		} else {
			records, err = scraper.LastNDays(ctx, historyDays)
		}
		if err != nil {
			serviceutil.Fatal("failed to fetch history", err)
		}

		counter, err := meter.Int64Counter(
			"operlog.history.records",
			metric.WithDescription("History records fetched from the html view."),
		)
		if err == nil {
			counter.Add(ctx, int64(len(records)))
		}

		fmt.Println(RenderRecords(records, e.clock.Location()))

		dsn := historyDb
		if dsn == "" {
			dsn = e.cfg.Database
		}
		if dsn != "" {
			archive(ctx, dsn, records)
		}
	},
}
