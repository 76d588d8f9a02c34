package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudve/clusterman/pkg/server"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd, _ := newRootCommandWithOptions()
	return cmd
}

func newRootCommandWithOptions() (*cobra.Command, *server.Options) {
	opts := server.NewDefaultOptions()
	showVersion := false

	cmd := &cobra.Command{
		Use:   "clustermand",
		Short: "Cluster autoscaling server driven by Alertmanager scale signals",
		Long: "clustermand tracks cluster autoscaling policies and node inventory,\n" +
			"receives scale signals from Alertmanager webhooks, and provisions or\n" +
			"tears down worker nodes through the Rancher API.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("clustermand\n")
				fmt.Printf("  Version:    %s\n", Version)
				fmt.Printf("  Commit:     %s\n", Commit)
				fmt.Printf("  Build Date: %s\n", BuildDate)
				return nil
			}
			return run(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ListenAddr, "listen-addr", opts.ListenAddr, "Address the API server binds to")
	flags.StringVar(&opts.RancherURL, "rancher-url", opts.RancherURL, "Base URL of the Rancher API")
	flags.StringVar(&opts.RancherToken, "rancher-token", opts.RancherToken, "Rancher API bearer token")
	flags.StringVar(&opts.RancherClusterID, "rancher-cluster-id", opts.RancherClusterID, "Rancher cluster ID node operations are scoped to")
	flags.StringVar(&opts.HostnamePrefix, "hostname-prefix", opts.HostnamePrefix, "Prefix for generated worker hostnames")
	flags.IntVar(&opts.RateLimit, "rate-limit", opts.RateLimit, "Rancher API request budget per minute")
	flags.DurationVar(&opts.ProvisionTimeout, "provision-timeout", opts.ProvisionTimeout, "Timeout for a single node launch call")
	flags.DurationVar(&opts.DrainTimeout, "drain-timeout", opts.DrainTimeout, "Timeout for a single node drain call")
	flags.DurationVar(&opts.DeleteTimeout, "delete-timeout", opts.DeleteTimeout, "Timeout for a single node delete call")
	flags.DurationVar(&opts.LockWait, "lock-wait", opts.LockWait, "How long a scale signal waits for the policy lock")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "Log format (json, console)")
	flags.BoolVar(&opts.DevelopmentMode, "development", opts.DevelopmentMode, "Enable development mode with verbose logging")
	flags.BoolVar(&opts.AuditEnabled, "audit", opts.AuditEnabled, "Enable audit event logging")
	flags.BoolVar(&showVersion, "version", false, "Show version information and exit")

	v := viper.New()
	v.SetEnvPrefix("CLUSTERMAN")
	v.AutomaticEnv()

	// Flags win over environment, environment over defaults.
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if !flags.Changed("rancher-url") {
			if url := v.GetString("RANCHER_URL"); url != "" {
				opts.RancherURL = url
			}
		}
		if !flags.Changed("rancher-token") {
			if token := v.GetString("RANCHER_TOKEN"); token != "" {
				opts.RancherToken = token
			}
		}
		if !flags.Changed("rancher-cluster-id") {
			if id := v.GetString("RANCHER_CLUSTER_ID"); id != "" {
				opts.RancherClusterID = id
			}
		}
		if !flags.Changed("listen-addr") {
			if addr := v.GetString("LISTEN_ADDR"); addr != "" {
				opts.ListenAddr = addr
			}
		}
		return nil
	}

	return cmd, opts
}

func run(opts *server.Options) error {
	if err := opts.Complete(); err != nil {
		return fmt.Errorf("failed to complete options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	fmt.Printf("Starting clustermand %s (commit: %s)\n", Version, Commit)

	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	defer srv.Logger().Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}
