package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/app/migrate"
	"github.com/achintir-projects/android-ios-automation-sub001/pkg/config"
	"github.com/achintir-projects/android-ios-automation-sub001/pkg/logger"
)

func main() {
	command := flag.String("command", migrate.CommandUp, "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	if err := runner.Run(ctx, *command, *target); err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", *command)
}
