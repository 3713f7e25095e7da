// Package main is the entry point of the roller daemon. It loads the configuration,
// builds the engine with its device transports and serves the API until interrupted.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"RollerLink/internal/core"
	"RollerLink/internal/util"
)

func main() {
	util.SetupLogger()

	cfgPath := flag.String("c", "configs/config.yml", "path to configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file for ${VAR} references in the config")
	flag.Parse()

	if err := core.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("failed to load %s: %v", *envPath, err)
	}
	util.Info("[main] using config: %s", *cfgPath)

	sys, err := core.NewSystem(*cfgPath)
	if err != nil {
		log.Fatalf("failed to create system: %v", err)
	}
	if err := sys.StartAll(); err != nil {
		log.Fatalf("failed to start system: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	util.Info("[main] shutting down system...")
	sys.StopAll()
	util.Info("[main] system stopped cleanly")
}
