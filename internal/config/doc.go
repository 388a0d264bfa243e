// Package config loads the biokey client configuration.
//
// # Sources
//
// Settings come from three places, later ones winning:
//
//   - built-in defaults (see Default)
//   - a TOML file, ~/.config/biokey/config.toml unless another path is given
//   - BIOKEY_* environment variables, e.g. BIOKEY_SERVER_URL
//
// Command-line flags are applied on top by the caller. A missing file is not
// an error. Durations are written as Go duration strings ("30s", "1m").
//
// # Example
//
//	server_url = "https://biokey.example.com"
//	data_dir = "~/.local/share/biokey"
//	sync_interval = "2s"
//	model_command = ["python3", "/opt/biokey/model.py"]
//
// # Machine identity
//
// When machine_id is not configured, EnsureMachineID generates a uuid and
// keeps it in data_dir/machine-id so the machine keeps its typing profile
// across restarts.
package config
