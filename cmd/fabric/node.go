package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/node"
	"github.com/cuemby/fabric/pkg/plugin"
	"github.com/cuemby/fabric/pkg/types"
)

var (
	flagNodeID     string
	flagNodeType   string
	flagNodeConfig string

	flagTransportBackend string
	flagTransportURL     string
	flagTransportUser    string
	flagTransportPass    string
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a worker node agent",
	Long: `Run a worker node on the fabric. The node publishes liveness every
heartbeat period, applies configurations pushed by orchestrators, and
dispatches events to its plugin.`,
	RunE: runNodeCmd,
}

func init() {
	nodeCmd.Flags().StringVar(&flagNodeID, "id", "", "Node id (generated if empty)")
	nodeCmd.Flags().StringVar(&flagNodeType, "type", plugin.GenericType, "Node plugin type")
	nodeCmd.Flags().StringVar(&flagNodeConfig, "config", "", "Path to a JSON file with the initial opaque config")

	nodeCmd.Flags().StringVar(&flagTransportBackend, "transport", "mqtt", "Transport backend (mqtt or redis)")
	nodeCmd.Flags().StringVar(&flagTransportURL, "url", "mqtt://127.0.0.1:1883", "Broker URL or server address")
	nodeCmd.Flags().StringVar(&flagTransportUser, "username", "", "Transport username")
	nodeCmd.Flags().StringVar(&flagTransportPass, "password", "", "Transport password")
}

func runNodeCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	nodeID := flagNodeID
	if nodeID == "" {
		nodeID = fmt.Sprintf("%s-%s", flagNodeType, uuid.NewString()[:8])
	}

	blob := json.RawMessage(`{}`)
	if flagNodeConfig != "" {
		data, err := os.ReadFile(flagNodeConfig)
		if err != nil {
			return errdefs.IO(err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("%w: %s is not valid JSON", errdefs.ErrInvalidConfig, flagNodeConfig)
		}
		blob = data
	}

	session, err := openSession(ctx, config.TransportSpec{
		Backend:  flagTransportBackend,
		URL:      flagTransportURL,
		Username: flagTransportUser,
		Password: flagTransportPass,
	}, "fabric-node-"+nodeID)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = session.Close(closeCtx)
	}()

	tunables := config.TunablesFromEnv()

	n, err := node.New(node.Options{
		ID:               nodeID,
		Type:             flagNodeType,
		Config:           types.NodeConfig{NodeID: nodeID, Config: blob},
		Session:          session,
		HeartbeatPeriod:  tunables.HeartbeatPeriod,
		DispatchCapacity: tunables.DispatchCapacity,
	})
	if err != nil {
		return err
	}

	l := log.WithNodeID(nodeID)
	l.Info().
		Str("type", flagNodeType).
		Str("transport", flagTransportBackend).
		Msg("Starting node")

	return n.Run(ctx)
}
