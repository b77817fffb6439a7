package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/playernet/player"
)

func main() {
	listenFlag := pflag.StringSliceP("listen", "l", []string{":6665"}, "listen address (may be given more than once)")
	bannerFlag := pflag.String("banner", player.DefaultBanner, "accept banner text")
	authKeyFlag := pflag.String("auth-key", "", "shared key clients must present before any other message; empty disables auth")
	maxQueueFlag := pflag.Int("max-queue-len", player.DefaultMaxQueueLen, "maximum length of each client connection's outbound queue")
	maxBodyFlag := pflag.Uint32("max-body-len", player.DefaultMaxBodyLen, "maximum accepted message body size in bytes")
	synchFlag := pflag.Duration("synch-interval", player.DefaultSynchInterval, "SYNCH batch period for push-all/push-new clients")
	verboseFlag := pflag.CountP("verbose", "v", "increase log verbosity (-v or more: debug)")
	help := pflag.Bool("help", false, "display help text")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: playerd [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	level := charmlog.InfoLevel
	if *verboseFlag >= 1 {
		level = charmlog.DebugLevel
	}
	logger := player.NewLogger(level)

	opts := []player.Option{
		player.WithBanner(*bannerFlag),
		player.WithMaxQueueLen(*maxQueueFlag),
		player.WithMaxBodyLen(*maxBodyFlag),
		player.WithSynchInterval(*synchFlag),
		player.WithLogger(logger),
	}
	for _, addr := range *listenFlag {
		opts = append(opts, player.WithListen(addr))
	}
	if key := strings.TrimSpace(*authKeyFlag); key != "" {
		opts = append(opts, player.WithAuthKey([]byte(key)))
	}

	srv := player.NewServer(opts...)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "err", err)
		os.Exit(1)
	}
	logger.Info("playerd running", "listeners", *listenFlag)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	srv.Stop()
	time.Sleep(100 * time.Millisecond)
}
