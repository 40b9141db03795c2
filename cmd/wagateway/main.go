package main

import (
	"log"

	"github.com/joho/godotenv"

	"wagateway/core/cmd"
)

func main() {
	// Optional .env for local development; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	if err := cmd.Run(cmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
	}); err != nil {
		log.Fatalf("wagateway: %v", err)
	}
}
