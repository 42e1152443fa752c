// streamprobe connects to the push feed and prints decoded events to the
// console. Useful for checking feed connectivity and channel naming
// without running the full engine.
//
// Usage: go run ./cmd/streamprobe --url wss://host/hubs/marketdata --tickers AAPL,MSFT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/avelar/marketsync/internal/stream"
)

func main() {
	url := flag.String("url", "", "feed WebSocket URL")
	tickerList := flag.String("tickers", "", "comma-separated tickers to subscribe")
	group := flag.String("group", "quotes", "subscription group")
	verbose := flag.Bool("verbose", false, "print full record JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *url == "" {
		logger.Error("missing required flag", "flag", "url")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := stream.DefaultManagerConfig()
	cfg.URL = *url
	mgr := stream.NewManager(cfg, logger)

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}

	if *tickerList != "" {
		tickers := strings.Split(*tickerList, ",")
		mgr.Subscribe(*group, tickers)
		logger.Info("subscribed", "group", *group, "tickers", tickers)
	}

	events := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("probe finished", "events", events)
			mgr.Stop(context.Background())
			return

		case sc := <-mgr.Status():
			logger.Info("feed status",
				"state", string(sc.State),
				"attempt", sc.Attempt,
				"exhausted", sc.Exhausted,
			)

		case ev := <-mgr.Events():
			events++
			if *verbose {
				raw, _ := json.MarshalIndent(ev.Records, "", "  ")
				fmt.Printf("--- %s (%s) %s\n%s\n", ev.Type, ev.Channel, ev.ReceivedAt.Format("15:04:05.000"), raw)
			} else {
				for _, rec := range ev.Records {
					fmt.Printf("%s  %-12v price=%v\n", ev.ReceivedAt.Format("15:04:05.000"), rec["symbol"], rec["price"])
				}
			}
		}
	}
}
