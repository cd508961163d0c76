// arenacheck probes a running arena: health, lobby, then watches the websocket feed for a while.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/arenaclient"
)

func main() {
	baseURL := os.Getenv("ARENA_BASE_URL")
	userID := os.Getenv("ARENA_USER_ID")
	topics := strings.Split(getenvDefault("ARENA_TOPICS", "lobby,matchmaking"), ",")

	if baseURL == "" {
		log.Fatal("ARENA_BASE_URL is required")
	}

	var opts []arenaclient.Option
	opts = append(opts, arenaclient.WithTimeout(8*time.Second))
	if userID != "" {
		opts = append(opts, arenaclient.WithHeaderProvider(arenaclient.Identity(userID, os.Getenv("ARENA_USER_NAME"))))
	}
	client := arenaclient.NewClient(baseURL, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	lobby, err := client.Lobby(ctx)
	if err != nil {
		log.Printf("/lobby error: %v", err)
	} else {
		log.Printf("/lobby ok: active=%d waiting=%d queued=%d recent=%d",
			lobby.ActiveGames, lobby.WaitingGames, lobby.QueueCount, len(lobby.RecentGames))
	}

	feed, err := arenaclient.NewFeed(baseURL, topics, 3)
	if err != nil {
		log.Fatalf("feed error: %v", err)
	}
	if userID != "" {
		feed.SetHeaderProvider(arenaclient.Identity(userID, ""))
	}
	feed.OnStateChange(func(state arenaclient.FeedState) {
		log.Printf("WS state: %s", state)
	})
	feed.OnEvent(func(ev arenaclient.Event) {
		fmt.Printf("WS %s %s\n", ev.Type, ev.Raw)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := feed.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	watch := 10 * time.Second
	if d, err := time.ParseDuration(os.Getenv("ARENA_WATCH")); err == nil && d > 0 {
		watch = d
	}
	<-time.After(watch)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	_ = feed.Close(closeCtx)
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
