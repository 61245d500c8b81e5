package services

import (
	"fmt"
	"path/filepath"
	"strings"
)

// GenerateSystemdService returns a unit file running binaryPath as a
// service. configPath is passed with --config when set.
func GenerateSystemdService(binaryPath, configPath string) string {
	execStart := binaryPath
	if configPath != "" {
		execStart += " --config " + configPath
	}

	return fmt.Sprintf(`[Unit]
Description=Network interface monitor
After=network.target vnstat.service
Wants=vnstat.service

[Service]
Type=simple
ExecStart=%s
Restart=always
RestartSec=5
User=root
WorkingDirectory=%s
# Samplers run in their own process groups; give the service time to stop them.
KillMode=mixed
TimeoutStopSec=30

[Install]
WantedBy=multi-user.target
`, strings.TrimSpace(execStart), filepath.Dir(binaryPath))
}
