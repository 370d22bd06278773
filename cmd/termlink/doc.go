// Package main is the termlink command-line front end.
//
// It resolves a terminal session on the control plane, then runs one
// function against it:
//
//	termlink run send_command 'ls -la' path=~/src timeout=30
//	termlink run -p work -t get_cwd
//	termlink run send_text text='y' enter=true
//	termlink run show_capabilities
//
// Positional arguments bind to parameters in order; key=value arguments bind
// by name. Flags go before the function name.
//
// For development without the host application, a local control plane
// backed by real PTY shells can be started with:
//
//	termlink mock-server --socket "$XDG_RUNTIME_DIR/termlink/api.sock"
//
// Configuration:
//   - Defaults, then the TOML file, then TERMLINK_* variables, then flags
//   - --debug (or TERMLINK_LOG_DEV) switches to console logs at debug level
//
// Signals:
//   - SIGINT, SIGTERM: cancel the running function or stop the server
package main
