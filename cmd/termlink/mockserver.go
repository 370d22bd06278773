package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/server"
)

type mockServerOptions struct {
	socket      string
	addr        string
	shell       string
	scripted    bool
	integration bool
	profiles    []string
	dir         string
}

func newMockServerCmd(g *globals) *cobra.Command {
	opts := &mockServerOptions{}
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve a local control plane backed by real shells",
		Long: "Serve a local control plane backed by real shells.\n\n" +
			"Without --addr it listens on the configured socket, so termlink run\n" +
			"finds it with no further setup. --scripted replaces the shells with a\n" +
			"deterministic fake that echoes its input.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.mockServer(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.socket, "socket", "", "Unix socket to listen on (default from configuration)")
	f.StringVar(&opts.addr, "addr", "", "TCP address to listen on instead of the socket, e.g. localhost:1912")
	f.StringVar(&opts.shell, "shell", "", "Shell to start in each session (default $SHELL, else /bin/sh)")
	f.BoolVar(&opts.scripted, "scripted", false, "Use the scripted fake shell instead of a real one")
	f.BoolVar(&opts.integration, "integration", false, "Make the scripted shell publish prompts and command events")
	f.StringSliceVar(&opts.profiles, "profile", nil, "Profile names to offer; the first is the default (default: any name)")
	f.StringVar(&opts.dir, "dir", "", "Working directory of new sessions (default $HOME)")
	return cmd
}

func (g *globals) mockServer(cmd *cobra.Command, opts *mockServerOptions) error {
	cfg := g.cfg
	log := g.logger.Component("mock-server")

	socket := opts.socket
	if socket == "" && opts.addr == "" {
		socket = cfg.Connect.Socket
	}
	shell := ""
	if !opts.scripted {
		shell = opts.shell
		if shell == "" {
			shell = os.Getenv("SHELL")
		}
		if shell == "" {
			shell = "/bin/sh"
		}
	}
	defaultProfile := ""
	if len(opts.profiles) > 0 {
		defaultProfile = opts.profiles[0]
	}

	srv, err := server.NewServer(server.Config{
		SocketPath:     socket,
		Addr:           opts.addr,
		Shell:          shell,
		WorkingDir:     opts.dir,
		Integration:    opts.integration,
		Profiles:       opts.profiles,
		DefaultProfile: defaultProfile,
		Cookie:         cfg.Connect.Cookie,
		Key:            cfg.Connect.Key,
		Logger:         log,
		Metrics:        g.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	st := newStyles(cmd.OutOrStdout())
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.render(st.heading, "control plane listening on"), srv.Endpoint())
	if opts.addr != "" {
		fmt.Fprintln(cmd.OutOrStdout(), st.render(st.muted, "export TERMLINK_CONNECT_URL="+srv.Endpoint()))
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-cmd.Context().Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Error("Error during shutdown", zap.Error(err))
		}
		return <-errChan
	case err := <-errChan:
		_ = srv.Close()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
