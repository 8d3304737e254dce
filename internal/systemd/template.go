// Package systemd renders the service unit for running the gateway under
// systemd.
package systemd

import "fmt"

// UnitName is the file name the unit is installed under.
const UnitName = "cmdgate.service"

// GatewayUnit returns a hardened unit that runs "cmdgate serve" with the
// given binary and config file. State lives under the config's paths, so
// the unit grants write access to stateDir only.
func GatewayUnit(binary, configPath, stateDir string) string {
	return fmt.Sprintf(`[Unit]
Description=cmdgate remote-command gateway
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s serve --config %s
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths=%s

[Install]
WantedBy=multi-user.target
`, binary, configPath, stateDir)
}
