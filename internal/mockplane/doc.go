/*
Package mockplane is an in-memory control plane. It implements remote.Remote
directly, and cmd/termlink can serve it over the websocket protocol with
controlplane.Handler.

Sessions are driven by a Shell:

  - ScriptedShell is deterministic. It echoes typed input, answers commands
    from a Responder, understands the sentinel wrapper produced by the
    execution engine, and can emulate shell integration (prompt records and
    command-end events).
  - PTYShell runs a real shell on a pseudo-terminal via creack/pty.

Usage:

	plane := mockplane.New(mockplane.Options{
		Shell: mockplane.Scripted(mockplane.ScriptedOptions{
			Respond: mockplane.Script{"make": {Output: "ok\n"}}.Respond,
		}),
	})
	created, _ := plane.CreateWindow(ctx, "")
*/
package mockplane
