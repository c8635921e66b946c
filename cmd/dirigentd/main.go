package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"

	"dirigent/internal/daemon"
)

func main() {
	var (
		cfgPath  string
		validate bool
	)
	flag.StringVar(&cfgPath, "config", "./dirigent.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&validate, "validate", false, "validate config and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if validate {
		fmt.Println("config ok")
		return
	}

	// Best effort; no-op outside systemd.
	_, _ = sdnotify.SdNotify(false, sdnotify.SdNotifyReady)
	go func() {
		<-ctx.Done()
		_, _ = sdnotify.SdNotify(false, sdnotify.SdNotifyStopping)
	}()

	if err := d.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
