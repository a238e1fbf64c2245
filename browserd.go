package main

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cli "github.com/neboloop/browserd/cmd/browserd"
	"github.com/neboloop/browserd/internal/config"
)

//go:embed etc/browserd.yaml
var embeddedConfig []byte

// Set with -ldflags "-X main.version=v0.1.0".
var version = "dev"

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Load embedded config (defaults)
	c, err := config.LoadFromBytes(embeddedConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load embedded config: %v\n", err)
		os.Exit(1)
	}

	cli.Version = version
	if err := cli.SetupRootCmd(&c).Execute(); err != nil {
		os.Exit(1)
	}
}
