package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/servisr"
	"github.com/spf13/cobra"
)

// version is injected at build time via -ldflags "-X main.version=v1.2.3".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot wires every subcommand onto the root command.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	startFlags := &StartFlags{}
	healthFlags := &HealthFlags{}
	discoverFlags := &DiscoverFlags{}
	templateFlags := &TemplateCreateFlags{}

	c := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createStartCommand(c, startFlags),
		createStopCommand(c),
		createRestartCommand(c),
		createStatusCommand(c),
		createHealthCommand(c, healthFlags),
		createDiscoverCommand(c, discoverFlags),
		createTemplateCommand(c, templateFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "servisr",
		Short: "Supervisor for the SERVAL detector-control server",
		Long: `Servisr launches and supervises a SERVAL (Timepix3 detector control) server:
it locates the server JAR, starts the JVM, waits until the HTTP API is ready,
enforces detector-connection evidence and restarts the server when it dies.

Examples:
  servisr serve config.toml         # Run the supervisor daemon
  servisr start                     # Launch the managed server via the daemon
  servisr status                    # Inspect the supervisor state
  servisr status --api-url=https://remote:9001/api`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIURL, "api-url", "", "daemon URL (e.g. http://host:9001/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 2*time.Minute,
		"request timeout (start blocks until the managed server is ready)")

	return root
}

// createServeCommand creates the serve subcommand running the daemon.
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor daemon",
		Long: `Run the supervisor daemon: load the config, expose the control API and
manage the SERVAL server process.

Examples:
  servisr serve config.toml         # Run in the foreground
  servisr serve config.toml --connect   # Launch the managed server at boot
  servisr serve config.toml --daemonize --pidfile=/run/servisr.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")
	cmd.Flags().BoolVar(&serveFlags.Connect, "connect", false, "launch the managed server immediately")

	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}

	fc, err := servisr.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	logger := fc.Logging.NewSlogger()

	sup := servisr.New(fc.Serval)
	sup.SetLogger(logger)

	if env, err := servisr.LoadGlobalEnv(configPath); err == nil && len(env) > 0 {
		sup.SetGlobalEnv(env)
	}

	if fc.Journal != nil && fc.Journal.Enabled {
		sinks := make([]servisr.JournalSink, 0, len(fc.Journal.DSNs))
		for _, dsn := range fc.Journal.DSNs {
			sink, err := servisr.NewJournalSink(dsn)
			if err != nil {
				return fmt.Errorf("journal sink %s: %w", dsn, err)
			}
			sinks = append(sinks, sink)
		}
		sup.SetJournalSinks(logger, sinks...)
		defer sup.CloseJournal()
	}

	if fc.Metrics != nil && fc.Metrics.Enabled {
		if err := servisr.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		if fc.Metrics.Listen != "" {
			go func() {
				if err := servisr.ServeMetrics(fc.Metrics.Listen); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
		}
	}

	if fc.Server == nil || !fc.Server.Enabled {
		return fmt.Errorf("server must be enabled in the config to run serve")
	}

	server, err := servisr.NewAPIServerFromConfig(*fc.Server, sup)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	protocol := "HTTP"
	if fc.Server.TLS != nil && fc.Server.TLS.Enabled {
		protocol = "HTTPS"
	}
	fmt.Printf("Starting servisr %s server on %s%s\n", protocol, fc.Server.Listen, fc.Server.BasePath)

	if flags.Connect {
		go func() {
			if err := sup.Connect(context.Background()); err != nil {
				logger.Error("initial connect failed", "error", err)
			}
		}()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	if err := sup.Stop(context.Background()); err != nil {
		logger.Error("stop on shutdown failed", "error", err)
	}
	return server.Close()
}

// createStartCommand creates the start subcommand.
func createStartCommand(c command, startFlags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the managed server",
		Long: `Launch the SERVAL server through the daemon and wait until it is ready.

Examples:
  servisr start
  servisr start --validate          # Check JAR and java runtime first`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(*startFlags)
		},
	}
	cmd.Flags().BoolVar(&startFlags.Validate, "validate", false, "run full environment validation before launching")
	return cmd
}

// createStopCommand creates the stop subcommand.
func createStopCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the managed server",
		Long: `Stop the SERVAL server through the daemon. The daemon asks the server to
shut itself down and escalates to signals when it does not.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop()
		},
	}
}

// createRestartCommand creates the restart subcommand.
func createRestartCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the managed server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart()
		},
	}
}

// createStatusCommand creates the status subcommand.
func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the supervisor status",
		Long: `Show the supervisor snapshot: state, process, located artifact and
connection evidence.

Examples:
  servisr status
  servisr status --api-url=http://remote:9001/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status()
		},
	}
}

// createHealthCommand creates the health subcommand.
func createHealthCommand(c command, healthFlags *HealthFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the managed server's health",
		Long: `Probe the managed server and print the result. The command exits non-zero
when the server is unhealthy.

Examples:
  servisr health
  servisr health --force            # Bypass the daemon's health cache`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Health(*healthFlags)
		},
	}
	cmd.Flags().BoolVar(&healthFlags.Force, "force", false, "bypass the cached health result")
	return cmd
}

// createDiscoverCommand creates the discover subcommand.
func createDiscoverCommand(c command, discoverFlags *DiscoverFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Locate the server JAR and java runtime",
		Long: `Ask the daemon to locate the SERVAL JAR and the java runtime on its host
and print the discovery report.

Examples:
  servisr discover
  servisr discover --force          # Re-scan even when already located`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Discover(*discoverFlags)
		},
	}
	cmd.Flags().BoolVar(&discoverFlags.Force, "force", false, "re-run the filesystem scan")
	return cmd
}

// createTemplateCommand creates the template subcommand.
func createTemplateCommand(c command, templateFlags *TemplateCreateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write a starter config file",
		Long: `Write a starter config.toml for a deployment shape. Edit the result and
run the daemon with 'servisr serve config.toml'.

Supported template types:
  minimal      smallest useful config
  development  debug logging, local SQLite journal, no detector required
  production   TLS, PostgreSQL journal, Prometheus metrics
  lab          facility deployment with ClickHouse journal

Examples:
  servisr template --type=development
  servisr template --type=production --output=/etc/servisr/config.toml
  servisr template --type=lab --name=tpx3 --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateCreate(*templateFlags)
		},
	}

	cmd.Flags().StringVar(&templateFlags.Type, "type", "", "template type (required): minimal, development, production, lab")
	cmd.Flags().StringVar(&templateFlags.Name, "name", "", "server name for the config (defaults to serval)")
	cmd.Flags().StringVar(&templateFlags.Output, "output", "", "output file path (defaults to config.toml)")
	cmd.Flags().BoolVar(&templateFlags.Force, "force", false, "overwrite an existing file")

	return cmd
}

// createVersionCommand creates the version subcommand.
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the servisr version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("servisr %s\n", version)
		},
	}
}
