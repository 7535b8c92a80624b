package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/coreos/go-systemd/v22/daemon"

	"hadroid/internal/app"
	kit "hadroid/internal/transport"
	"hadroid/internal/transport/stdout"
)

// consoleRoom is the channel used by -stdout mode.
var consoleRoom = kit.ChatTarget{ChatID: 1}

func main() {
	var (
		cfgPath string
		console bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.BoolVar(&console, "stdout", false, "talk on the console instead of telegram; with arguments, run them as one command and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var opt app.Options
	oneShot := console && flag.NArg() > 0
	switch {
	case oneShot:
		opt.Adapter = stdout.New(os.Stdout, nil, consoleUser(), consoleRoom)
	case console:
		opt.Adapter = stdout.New(os.Stdout, os.Stdin, consoleUser(), consoleRoom)
	}

	a, err := app.New(cfgPath, opt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if oneShot {
		if err := a.RunOnce(ctx, consoleRoom.String(), strings.Join(flag.Args(), " ")); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := "signal"
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = "app"
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = a.Stop(sctx, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// consoleUser is the local OS user, so admins can be listed by login name.
func consoleUser() stdout.User {
	u := stdout.User{ID: int64(os.Getuid()), Username: "console", Name: "Console"}
	if cur, err := user.Current(); err == nil {
		u.Username = cur.Username
		if cur.Name != "" {
			u.Name = cur.Name
		}
	}
	return u
}
