package plugin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/types"
)

func TestRegistryCreateGeneric(t *testing.T) {
	reg := NewRegistry()

	cfg := types.NodeConfig{NodeID: "n1", Config: json.RawMessage(`{"a":1}`)}
	iface, err := reg.Create(GenericType, cfg)
	require.NoError(t, err)

	assert.Equal(t, GenericType, iface.GetType())
	assert.True(t, iface.GetConfig().Equal(cfg))
}

func TestRegistryUnknownType(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Create("submarine", types.NodeConfig{NodeID: "n1"})
	assert.True(t, errdefs.IsUnknownPluginType(err))
}

func TestRegistryLastWriterWins(t *testing.T) {
	reg := NewRegistry()

	reg.Register("custom", func(cfg types.NodeConfig) (Interface, error) {
		return &Generic{}, nil
	})
	reg.Register("custom", NewRadio)

	iface, err := reg.Create("custom", types.NodeConfig{NodeID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, RadioType, iface.GetType())
}

func TestGenericUpdateConfig(t *testing.T) {
	iface, err := NewGeneric(types.NodeConfig{NodeID: "n1", Config: json.RawMessage(`{"v":1}`)})
	require.NoError(t, err)

	next := types.NodeConfig{NodeID: "n1", Config: json.RawMessage(`{"v":2}`)}
	iface.UpdateConfig(next)
	assert.True(t, iface.GetConfig().Equal(next))

	// Idempotent overwrite
	iface.UpdateConfig(next)
	assert.True(t, iface.GetConfig().Equal(next))
}

func TestGenericHandleEventNoop(t *testing.T) {
	iface, err := NewGeneric(types.NodeConfig{NodeID: "n1"})
	require.NoError(t, err)
	assert.NoError(t, iface.HandleEvent("anything", "payload"))
}

func TestRadioParsesSettings(t *testing.T) {
	cfg := types.NodeConfig{
		NodeID: "r1",
		Config: json.RawMessage(`{"frequency":915e6,"modulation":"lora","bandwidth":125e3,"tx_power":17}`),
	}
	iface, err := NewRadio(cfg)
	require.NoError(t, err)

	radio := iface.(*Radio)
	assert.Equal(t, 915e6, radio.Settings().Frequency)
	assert.Equal(t, "lora", radio.Settings().Modulation)
	assert.Equal(t, int64(17), radio.Settings().TxPower)
}

func TestRadioRejectsMalformedConfig(t *testing.T) {
	_, err := NewRadio(types.NodeConfig{NodeID: "r1", Config: json.RawMessage(`"not an object"`)})
	assert.True(t, errdefs.IsInvalidConfig(err))
}

func TestRadioRetuneEvent(t *testing.T) {
	iface, err := NewRadio(types.NodeConfig{NodeID: "r1", Config: json.RawMessage(`{"frequency":915e6}`)})
	require.NoError(t, err)

	radio := iface.(*Radio)
	require.NoError(t, radio.HandleEvent("retune", "868000000"))
	assert.Equal(t, 868e6, radio.Settings().Frequency)

	assert.Error(t, radio.HandleEvent("retune", "not-a-number"))
	assert.NoError(t, radio.HandleEvent("unrelated", "whatever"))
}

func TestDefaultRegistryShared(t *testing.T) {
	Register("shared-test-type", NewGeneric)

	_, err := Default().Create("shared-test-type", types.NodeConfig{NodeID: "n1"})
	assert.NoError(t, err)
}
