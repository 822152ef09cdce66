package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"otc_stream/internal/client"
)

// streamclient follows one symbol on a running market data service and prints every frame.
func main() {
	url := flag.String("url", "ws://localhost:3001/ws", "stream endpoint")
	symbol := flag.String("symbol", "EUR/USD", "symbol to follow")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*url, client.Options{})
	c.SetSymbol(*symbol)
	c.Connect(ctx)
	defer c.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.Events():
			if ev.Type == client.EventStatus {
				slog.Info("Connection state", slog.String("state", string(ev.State)))
				continue
			}
			fmt.Println(string(ev.Raw))
		}
	}
}
