/*
Package client bridges arbitrary goroutines onto a single loop goroutine that
owns a session state and performs every remote call.

Callers submit closures over a task channel and block, or receive on a
result channel, until the loop has run them. Code already running on the
loop is detected through its context and runs inline, so nested calls
never deadlock.

	c, err := client.New(ctx, gateway, client.Options{Timeout: 10 * time.Second})
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := client.RunCommand(ctx, c, engine, execution.Request{Command: "ls"})
*/
package client
