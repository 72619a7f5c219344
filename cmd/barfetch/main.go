// Command barfetch backfills historical 1-minute bars for one symbol and
// prints them as JSON lines, paging from the instrument's origin (or a
// given start) in venue-sized chunks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/bhojpur/trades/internal/exchange/bitmex"
)

func main() {
	symbol := flag.String("symbol", "XBTUSD", "instrument symbol")
	start := flag.Int64("start", 0, "start epoch seconds (0 = instrument origin)")
	count := flag.Int("count", bitmex.MaxBarsPerRequest, "number of bars to fetch")
	baseURL := flag.String("url", bitmex.MainnetURL, "venue REST endpoint")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bar history is public data; no credentials needed.
	client := bitmex.NewClient("", "", []string{*symbol}, bitmex.WithBaseURL(*baseURL))

	from := *start
	if from == 0 {
		origin, err := client.GetOriginTimestamp(ctx, *symbol)
		if err != nil {
			logger.Error("failed to resolve origin timestamp", slog.Any("error", err))
			os.Exit(1)
		}
		from = origin
	}

	enc := json.NewEncoder(os.Stdout)
	remaining := *count
	for remaining > 0 {
		chunk := remaining
		if chunk > bitmex.MaxBarsPerRequest {
			chunk = bitmex.MaxBarsPerRequest
		}

		bars, err := client.GetBarsInPeriod(ctx, *symbol, from, chunk)
		if err != nil {
			logger.Error("bar fetch failed", slog.Any("error", err))
			os.Exit(1)
		}
		if len(bars) == 0 {
			break
		}

		for _, bar := range bars {
			if err := enc.Encode(bar); err != nil {
				logger.Error("failed to encode bar", slog.Any("error", err))
				os.Exit(1)
			}
		}

		remaining -= len(bars)
		from = bars[len(bars)-1].Timestamp + 60
	}

	fmt.Fprintf(os.Stderr, "fetched %d bars for %s\n", *count-remaining, *symbol)
}
