package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/airzone-controller/internal/env"
)

const defaultUnitPath = "/etc/systemd/system/airzone-controller.service"

// UnitFile renders the systemd unit that runs the controller binary against configFile.
func UnitFile(binaryPath, configFile string) string {
	workdir := filepath.Dir(configFile)
	args := []string{binaryPath, "-config-file", configFile}
	if env.Cfg != nil && env.Cfg.LogFile != "" {
		args = append(args, "-log-file", env.Cfg.LogFile)
	}

	return fmt.Sprintf(`[Unit]
Description=Airzone controller
Wants=network-online.target
After=network-online.target

[Service]
Type=simple
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, workdir, strings.Join(args, " "))
}

// InstallService writes the unit to env.Cfg.MainServicePath.
func InstallService() error {
	if env.Cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	binary := env.Cfg.BinaryPath
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve binary path: %w", err)
		}
		binary = exe
	}
	configFile, err := filepath.Abs(env.Cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	path := env.Cfg.MainServicePath
	if path == "" {
		path = defaultUnitPath
	}
	if err := os.WriteFile(path, []byte(UnitFile(binary, configFile)), 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}
	return nil
}

// EnableService reloads systemd and enables the unit written by InstallService.
func EnableService() error {
	unit := filepath.Base(env.Cfg.MainServicePath)
	if env.Cfg.MainServicePath == "" {
		unit = filepath.Base(defaultUnitPath)
	}
	for _, args := range [][]string{{"daemon-reload"}, {"enable", unit}} {
		cmd := exec.Command("systemctl", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
		}
	}
	return nil
}
