package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/termlink/internal/client"
	"github.com/GriffinCanCode/termlink/internal/controlplane"
	"github.com/GriffinCanCode/termlink/internal/execution"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/termlink/internal/session"
)

type runOptions struct {
	newTab  bool
	profile string
	timeout float64
}

func newRunCmd(g *globals) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] FUNCTION [ARGS...]",
		Short: "Run a function against the terminal session",
		Long: "Run a function against the terminal session.\n\n" +
			"Positional ARGS bind to the function's parameters in order, key=value\n" +
			"ARGS bind by name.\n\nFunctions:\n" + functionHelp(),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, opts, args[0], args[1:])
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVarP(&opts.newTab, "new-tab", "t", false, "Open a new tab instead of reusing the tagged one")
	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "", "Profile to run under (default $TERMLINK_DEDICATED_PROFILE, else the default profile)")
	cmd.Flags().Float64Var(&opts.timeout, "timeout", 0, "Seconds to wait for a command (default from configuration)")
	return cmd
}

// unknownFunctionError names the function asked for and the ones that exist
type unknownFunctionError struct {
	name string
}

func (e *unknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function %q (known: %s)", e.name, strings.Join(functionNames(), ", "))
}

func (g *globals) run(cmd *cobra.Command, opts *runOptions, name string, raw []string) error {
	fn, ok := lookupFunction(name)
	if !ok {
		return &unknownFunctionError{name: name}
	}
	args, kwargs := splitArgs(raw)
	bound, err := fn.bind(args, kwargs)
	if err != nil {
		return err
	}

	log := g.logger.Component("cli")
	log.Debug("running function", zap.String("function", name), zap.Strings("args", args), zap.Any("kwargs", kwargs))

	ctx := cmd.Context()
	sess, engine, err := g.connect(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("closing the session client failed", zap.Error(err))
		}
	}()

	timeout := g.cfg.Command.Timeout.Duration()
	if opts.timeout > 0 {
		timeout = seconds(opts.timeout)
	}
	return fn.run(ctx, &invocation{
		params:  bound,
		session: sess,
		engine:  engine,
		timeout: timeout,
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		styles:  newStyles(cmd.OutOrStdout()),
		log:     log,
	})
}

// connect wires the supervisor, resolver and engine from configuration and
// waits for the session to be resolved
func (g *globals) connect(ctx context.Context, opts *runOptions) (*client.Session, *execution.Engine, error) {
	cfg := g.cfg
	log := g.logger.Logger

	dialer := &controlplane.WebsocketDialer{
		SocketPath: cfg.Connect.Socket,
		URL:        cfg.Connect.URL,
		Conn: controlplane.ConnOptions{
			Logger:  log,
			Metrics: g.metrics,
			Limiter: rate.NewLimiter(rate.Limit(cfg.Connect.RequestsPerSec), cfg.Connect.Burst),
		},
	}
	supervisor := controlplane.NewSupervisor(controlplane.SupervisorOptions{
		Dialer: dialer,
		Credentials: &controlplane.HelperCredentials{
			Cookie: cfg.Connect.Cookie,
			Key:    cfg.Connect.Key,
			Helper: cfg.Connect.CredentialHelper,
		},
		Launcher: &controlplane.CommandLauncher{Command: cfg.Connect.LaunchCommand},
		Timeout:  cfg.Connect.Timeout.Duration(),
		Breaker:  resilience.New("acquire", resilience.Settings{}),
		Hint: fmt.Sprintf("start the control plane at %s (for a local one: termlink mock-server) or raise TERMLINK_CONNECT_TIMEOUT",
			dialer.Endpoint()),
		Logger:  log,
		Metrics: g.metrics,
	})

	profile := cfg.Profile
	if opts.profile != "" {
		profile = opts.profile
	}
	gateway := &client.HandleGateway{
		Supervisor: supervisor,
		Resolver:   session.NewResolver(log, g.metrics),
		Options: session.Options{
			Profile: profile,
			NewTab:  opts.newTab,
			Tag:     session.TagFor(cfg.Tag, profile),
		},
	}

	sess, err := client.NewSession(ctx, gateway, client.Options{Logger: log, Metrics: g.metrics})
	if err != nil {
		return nil, nil, err
	}

	engineOpts := execution.DefaultOptions()
	engineOpts.DefaultTimeout = cfg.Command.Timeout.Duration()
	engineOpts.TailLines = cfg.Command.TailLines
	engineOpts.BeginWindow = cfg.Command.BeginWindow
	engineOpts.ProbeRetries = cfg.Command.ProbeRetries
	engineOpts.Logger = log
	engineOpts.Metrics = g.metrics
	return sess, execution.NewEngine(engineOpts), nil
}

// splitArgs separates key=value arguments from positional ones
func splitArgs(raw []string) ([]string, map[string]string) {
	var args []string
	kwargs := make(map[string]string)
	for _, a := range raw {
		key, value, ok := strings.Cut(a, "=")
		if !ok || key == "" || strings.ContainsAny(key, " \t'\"$") {
			args = append(args, a)
			continue
		}
		kwargs[key] = value
	}
	return args, kwargs
}

// params are a function's arguments after binding
type params map[string]string

func (p params) get(name, fallback string) string {
	if v, ok := p[name]; ok {
		return v
	}
	return fallback
}

func (p params) duration(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := p[name]
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s: want a non-negative number of seconds, got %q", name, v)
	}
	return seconds(f), nil
}

func (p params) flag(name string) (bool, error) {
	v, ok := p[name]
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: want true or false, got %q", name, v)
	}
	return b, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

type invocation struct {
	params  params
	session *client.Session
	engine  *execution.Engine
	timeout time.Duration
	out     io.Writer
	errOut  io.Writer
	styles  styles
	log     *zap.Logger
}

func (inv *invocation) field(key, value string) {
	st := inv.styles
	fmt.Fprintf(inv.out, "%s %s\n", st.render(st.key, key+":"), st.render(st.value, value))
}

// function is one entry of the run command's dispatch table
type function struct {
	name   string
	params []string
	// required is how many leading params must be given
	required int
	help     string
	run      func(ctx context.Context, inv *invocation) error
}

func (f function) usage() string {
	var b strings.Builder
	b.WriteString(f.name)
	for i, p := range f.params {
		if i < f.required {
			fmt.Fprintf(&b, " %s", p)
		} else {
			fmt.Fprintf(&b, " [%s]", p)
		}
	}
	return b.String()
}

// bind maps positional and keyword arguments onto the declared parameters
func (f function) bind(args []string, kwargs map[string]string) (params, error) {
	if len(args) > len(f.params) {
		return nil, fmt.Errorf("%s takes at most %d arguments, got %d (usage: %s)", f.name, len(f.params), len(args), f.usage())
	}
	out := make(params, len(f.params))
	for i, a := range args {
		out[f.params[i]] = a
	}
	for k, v := range kwargs {
		if !f.accepts(k) {
			return nil, fmt.Errorf("%s got an unexpected argument %q (usage: %s)", f.name, k, f.usage())
		}
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("%s got multiple values for %q", f.name, k)
		}
		out[k] = v
	}
	for _, p := range f.params[:f.required] {
		if _, ok := out[p]; !ok {
			return nil, fmt.Errorf("%s is missing %q (usage: %s)", f.name, p, f.usage())
		}
	}
	return out, nil
}

func (f function) accepts(name string) bool {
	for _, p := range f.params {
		if p == name {
			return true
		}
	}
	return false
}

func lookupFunction(name string) (function, bool) {
	for _, f := range functions {
		if f.name == name {
			return f, true
		}
	}
	return function{}, false
}

func functionNames() []string {
	names := make([]string, 0, len(functions))
	for _, f := range functions {
		names = append(names, f.name)
	}
	sort.Strings(names)
	return names
}

func functionHelp() string {
	var b strings.Builder
	for _, f := range functions {
		fmt.Fprintf(&b, "  %-48s %s\n", f.usage(), f.help)
	}
	return b.String()
}
