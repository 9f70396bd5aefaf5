package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkade-os/cat721-send/internal/config"
	"github.com/arkade-os/cat721-send/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "cat721-send"
	app.Usage = "bulk transfer CAT-721 nfts"
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(errors.ExitCode(err))
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadConfig(c)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}
	defer cfg.RepoManager().Close()

	log.Debugf("cat721-send config: %s", cfg)

	svc, err := cfg.AppService()
	if err != nil {
		return fmt.Errorf("failed to create service: %s", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, os.Interrupt,
	)
	defer stop()

	report, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	if report != nil {
		log.Infof(
			"batch %s done: %d transferred, %d failed",
			report.BatchId, len(report.Succeeded()), len(report.Failed()),
		)
	}
	return nil
}
