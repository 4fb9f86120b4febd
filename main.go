package main

import (
	"log"
	"runtime"

	"github.com/joho/godotenv"

	"crm-mailer/internal/app"
	"crm-mailer/internal/common/logging"
	"crm-mailer/internal/config"
)

func main() {
	_ = godotenv.Load()
	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	application, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer application.Close()

	if err := application.Run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
