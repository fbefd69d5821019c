// Command server runs the DracoSoft game server: module manager, event bus,
// and the TCP front door, configured from YAML.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/djames1987/DracoSoft-Server/internal/config"
	"github.com/djames1987/DracoSoft-Server/internal/modules/auth"
	"github.com/djames1987/DracoSoft-Server/internal/modules/netfront"
	"github.com/djames1987/DracoSoft-Server/internal/modules/ops"
	"github.com/djames1987/DracoSoft-Server/internal/modules/sqlitestore"
	"github.com/djames1987/DracoSoft-Server/internal/modules/users"
	"github.com/djames1987/DracoSoft-Server/internal/server"
	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; environment beats file either way.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(config.Path(*configFlag))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging, "server")
	if err != nil {
		return err
	}

	core := server.New(cfg, log)
	core.Register(sqlitestore.Name, sqlitestore.New)
	core.Register(users.Name, users.New)
	core.Register(netfront.Name, netfront.New)
	core.Register(auth.Name, auth.New)
	core.Register(ops.Name, ops.New)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		core.Shutdown(shutCtx)
		shutCancel()
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.WithField("signal", s.String()).Info("shutdown signal received")

	cancel()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	core.Shutdown(shutCtx)
	return nil
}
