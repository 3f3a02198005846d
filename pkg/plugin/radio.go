package plugin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/types"
)

// RadioType identifies the built-in radio node
const RadioType = "radio"

// RadioSettings is the radio plugin's view of the opaque config blob
type RadioSettings struct {
	Frequency  float64 `json:"frequency"`
	Modulation string  `json:"modulation"`
	Bandwidth  float64 `json:"bandwidth"`
	TxPower    int64   `json:"tx_power"`
}

// Radio is a built-in node interface for software-defined radio workers. It
// interprets the config blob as RadioSettings and supports retune events.
type Radio struct {
	mu       sync.RWMutex
	cfg      types.NodeConfig
	settings RadioSettings
}

// NewRadio constructs a Radio interface, rejecting blobs that do not parse
// as RadioSettings
func NewRadio(cfg types.NodeConfig) (Interface, error) {
	settings, err := parseRadioSettings(cfg)
	if err != nil {
		return nil, err
	}
	return &Radio{cfg: cfg, settings: settings}, nil
}

func parseRadioSettings(cfg types.NodeConfig) (RadioSettings, error) {
	var settings RadioSettings
	if len(cfg.Config) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(cfg.Config, &settings); err != nil {
		return RadioSettings{}, fmt.Errorf("%w: radio settings: %v", errdefs.ErrInvalidConfig, err)
	}
	return settings, nil
}

func (r *Radio) GetConfig() types.NodeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Radio) UpdateConfig(cfg types.NodeConfig) {
	settings, err := parseRadioSettings(cfg)
	if err != nil {
		// Keep the previous tuning but store the blob, mirroring Generic:
		// the fabric contract is that UpdateConfig overwrites.
		r.mu.Lock()
		r.cfg = cfg
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.cfg = cfg
	r.settings = settings
	r.mu.Unlock()
}

func (r *Radio) GetType() string { return RadioType }

// HandleEvent supports "retune" with a frequency payload in Hz
func (r *Radio) HandleEvent(event, payload string) error {
	switch event {
	case "retune":
		freq, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return fmt.Errorf("retune payload %q: %w", payload, err)
		}
		r.mu.Lock()
		r.settings.Frequency = freq
		r.mu.Unlock()
		return nil
	default:
		return nil
	}
}

// Settings returns the current tuning
func (r *Radio) Settings() RadioSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}
