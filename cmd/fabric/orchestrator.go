package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/orchestrator"
	"github.com/cuemby/fabric/pkg/retry"
	"github.com/cuemby/fabric/pkg/types"
)

var (
	flagOrchID string
	flagFleet  string
)

var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Run an orchestrator agent",
	Long: `Run an orchestrator on the fabric. The orchestrator watches every
node's liveness, flips silent nodes offline, and pushes the node
configurations from the fleet file on startup.`,
	RunE: runOrchestratorCmd,
}

func init() {
	orchestratorCmd.Flags().StringVar(&flagOrchID, "id", "", "Orchestrator id (generated if empty)")
	orchestratorCmd.Flags().StringVar(&flagFleet, "fleet", "fleet.yaml", "Path to the fleet file")
}

func runOrchestratorCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	fleet, err := config.LoadFleet(flagFleet)
	if err != nil {
		return err
	}

	orchID := flagOrchID
	if orchID == "" {
		orchID = "orchestrator-" + uuid.NewString()[:8]
	}

	session, err := openSession(ctx, fleet.Transport, "fabric-orch-"+orchID)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = session.Close(closeCtx)
	}()

	tunables := config.TunablesFromEnv()
	policy := retry.DefaultPolicy()
	policy.Initial = tunables.ConfigBackoffInitial
	policy.Multiplier = tunables.ConfigBackoffFactor

	o, err := orchestrator.New(orchestrator.Options{
		ID:                   orchID,
		Session:              session,
		StalenessThreshold:   tunables.StalenessThreshold,
		StalenessCheckPeriod: tunables.StalenessCheckPeriod,
		ConfigRetry:          &policy,
		DispatchCapacity:     tunables.DispatchCapacity,
	})
	if err != nil {
		return err
	}

	logger := log.WithOrchestratorID(orchID)

	// Log every state update (each heartbeat and each staleness transition)
	// for every node named in the fleet.
	for _, spec := range fleet.Nodes {
		nodeID := spec.ID
		o.RegisterCallback(nodeID, func(nd types.NodeData) {
			logger.Info().
				Str("node_id", nodeID).
				Str("status", string(nd.Status)).
				Msg("Node state updated")
		})
	}

	// Push the fleet's node configurations in the background so slow
	// transports never delay liveness tracking.
	go func() {
		for _, spec := range fleet.Nodes {
			cfg, err := spec.NodeConfig()
			if err != nil {
				logger.Error().Err(err).Str("node_id", spec.ID).Msg("Skipping unencodable node config")
				continue
			}
			if err := o.PublishNodeConfig(ctx, spec.ID, cfg); err != nil {
				logger.Error().Err(err).Str("node_id", spec.ID).Msg("Config push failed")
			}
		}
	}()

	logger.Info().
		Int("fleet_nodes", len(fleet.Nodes)).
		Str("transport", fleet.Transport.Backend).
		Msg("Starting orchestrator")

	return o.Run(ctx)
}
