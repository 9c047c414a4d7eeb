package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtbot/internal/app"
	"courtbot/internal/config"
	"courtbot/internal/domain"
	"courtbot/internal/ipc"
)

const stopTimeout = 15 * time.Second

func main() {
	var (
		cfgPath   = flag.String("config", "./config.yaml", "path to config file (yaml or json)")
		credsPath = flag.String("credentials", "", "path to credential vault file (default: environment variables)")
		trigger   = flag.Bool("trigger", false, "notify a running daemon that an autorun trigger fired, then exit")
		runID     = flag.String("run", "", "run one reservation config manually and exit")
		status    = flag.Bool("status", false, "print a running daemon's status and exit")
	)
	flag.Parse()

	switch {
	case *trigger:
		os.Exit(triggerMode(*cfgPath))
	case *status:
		os.Exit(statusMode(*cfgPath))
	case *runID != "":
		os.Exit(runMode(*cfgPath, *credsPath, *runID))
	default:
		os.Exit(daemonMode(*cfgPath, *credsPath))
	}
}

func daemonMode(cfgPath, credsPath string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: cfgPath, CredentialFile: credsPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		return 1
	}

	<-a.Done()
	reason := "signal"
	if err := a.Err(); err != nil {
		reason = "error: " + err.Error()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if a.Err() != nil {
		return 1
	}
	return 0
}

// triggerMode is what the OS timer unit execs. A missing daemon is not
// an error: the daemon's own backstop covers the check when it is back.
func triggerMode(cfgPath string) int {
	ipcCfg := ipcConfig(cfgPath)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reply, err := ipc.Trigger(ctx, ipcCfg)
	if err != nil {
		return 0
	}
	fmt.Println(reply)
	return 0
}

func statusMode(cfgPath string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := ipc.Status(ctx, ipcConfig(cfgPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "no running daemon:", err)
		return 1
	}
	fmt.Println(reply)
	return 0
}

// runMode performs one blocking manual run. Exit codes: 0 reservation
// confirmed, 1 run failed, 2 config not eligible (disabled or no slots).
func runMode(cfgPath, credsPath, id string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: cfgPath, CredentialFile: credsPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, "manual run finished")
	}()

	out, err := a.RunConfig(ctx, id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Println(out.Text())

	switch {
	case out.Eligibility != domain.Eligible:
		return 2
	case out.Success:
		return 0
	default:
		return 1
	}
}

// ipcConfig loads just the socket path; a broken or missing config file
// falls back to the default socket so -trigger stays side-effect free.
func ipcConfig(cfgPath string) config.IPCConfig {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return config.IPCConfig{}
	}
	return cfg.IPC
}
