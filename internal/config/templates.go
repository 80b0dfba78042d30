package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client", "login":
		return clientTemplate, nil
	case "broker", "stub":
		return brokerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `# socket defaults to $GREETD_SOCK
socket = "/tmp/greetd-stub.sock"
user = "alice"
command = ["sway"]
env = ["XDG_SESSION_TYPE=wayland"]
max_attempts = 3
backoff_initial = "1s"
backoff_max = "10s"
round_trip_timeout = "30s"
max_payload_bytes = 65536
metrics_textfile = ""
`

const brokerTemplate = `socket = "/tmp/greetd-stub.sock"
prompt = "Password: "
banner = "greetd stub broker"
max_payload_bytes = 65536
exec_sessions = false

[[users]]
name = "alice"
password = "hunter2"
`
