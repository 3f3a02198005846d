package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/transport"
	mqtttransport "github.com/cuemby/fabric/pkg/transport/mqtt"
	redistransport "github.com/cuemby/fabric/pkg/transport/redis"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagLogLevel    string
	flagLogJSON     bool
	flagMetricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fabric",
	Short: "Fabric - Distributed device fabric over pub/sub",
	Long: `Fabric coordinates a fleet of heterogeneous worker nodes from one or
more orchestrators over a publish/subscribe transport. Nodes publish
telemetry and liveness; orchestrators push configuration, watch liveness,
and react to telemetry.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level: flagLogLevel,
			JSON:  flagLogJSON,
		})
		if flagMetricsAddr != "" {
			metrics.Register()
			go func() {
				if err := metrics.Serve(flagMetricsAddr); err != nil {
					l := log.WithComponent("metrics")
					l.Error().Err(err).Msg("Metrics endpoint failed")
				}
			}()
		}
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Fabric version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Emit JSON log lines")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (empty disables)")

	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(orchestratorCmd)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openSession builds a transport session from a spec
func openSession(ctx context.Context, spec config.TransportSpec, clientID string) (transport.Session, error) {
	switch spec.Backend {
	case "mqtt":
		return mqtttransport.Open(ctx, mqtttransport.Config{
			BrokerURL: spec.URL,
			ClientID:  clientID,
			Username:  spec.Username,
			Password:  spec.Password,
		})
	case "redis":
		return redistransport.Open(ctx, redistransport.Config{
			Addr:     spec.URL,
			Username: spec.Username,
			Password: spec.Password,
		})
	default:
		return nil, errdefs.Other(fmt.Sprintf("unknown transport backend %q (want mqtt or redis)", spec.Backend))
	}
}
