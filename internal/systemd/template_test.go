package systemd

import (
	"strings"
	"testing"
)

func TestGatewayUnit(t *testing.T) {
	unit := GatewayUnit("/usr/local/bin/cmdgate", "/etc/cmdgate/config.yaml", "/var/lib/cmdgate")

	// Must be a valid systemd unit with required sections.
	for _, section := range []string{"[Unit]", "[Service]", "[Install]"} {
		if !strings.Contains(unit, section) {
			t.Errorf("unit missing section %s", section)
		}
	}

	if !strings.Contains(unit, "ExecStart=/usr/local/bin/cmdgate serve --config /etc/cmdgate/config.yaml") {
		t.Error("unit missing serve command")
	}
	if !strings.Contains(unit, "ReadWritePaths=/var/lib/cmdgate") {
		t.Error("unit missing state directory")
	}

	// Must have security hardening directives.
	for _, directive := range []string{"NoNewPrivileges=true", "PrivateTmp=true", "ProtectSystem=strict"} {
		if !strings.Contains(unit, directive) {
			t.Errorf("unit missing security directive %s", directive)
		}
	}
}
