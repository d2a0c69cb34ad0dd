// opencrab is a self-hosted, Go-based AI agent.
package main

import (
	"fmt"
	"os"

	"github.com/adolfousier/opencrab/cmd"
	"github.com/adolfousier/opencrab/config"
	"github.com/adolfousier/opencrab/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	configDir, _ := config.Dir()
	if err := logger.Init(cfg.BuildLoggerConfig(), configDir); err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
	}
	cmd.Execute()
}
