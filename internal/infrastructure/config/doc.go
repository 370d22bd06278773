// Package config loads termlink configuration.
//
// Values are layered, later layers winning:
//  1. Default()
//  2. an optional TOML file ($TERMLINK_CONFIG, else $XDG_CONFIG_HOME/termlink/config.toml)
//  3. TERMLINK_* environment variables (envconfig)
//  4. command-line flags, applied by cmd/termlink
//
// Environment Variables:
//   - TERMLINK_DEDICATED_PROFILE, TERMLINK_TAG
//   - TERMLINK_CONNECT_TIMEOUT (seconds, float), TERMLINK_CONNECT_SOCKET, TERMLINK_CONNECT_URL
//   - TERMLINK_CONNECT_COOKIE, TERMLINK_CONNECT_KEY, TERMLINK_CONNECT_CREDENTIAL_HELPER
//   - TERMLINK_CONNECT_LAUNCH_COMMAND, TERMLINK_CONNECT_RPS, TERMLINK_CONNECT_BURST
//   - TERMLINK_COMMAND_TIMEOUT, TERMLINK_COMMAND_TAIL_LINES, TERMLINK_COMMAND_BEGIN_WINDOW
//   - TERMLINK_COMMAND_PROBE_RETRIES
//   - TERMLINK_LOG_LEVEL, TERMLINK_LOG_DEV
//
// Example config.toml:
//
//	dedicated_profile = "work"
//
//	[connect]
//	timeout = 5.0
//	url = "ws://localhost:1912"
//
//	[log]
//	level = "debug"
package config
