// Package config implements the declarative startup configuration
// surface and builds the immutable 15-bus topology from it: nested
// structs per concern with yaml tags, a DefaultConfig constructor, and a
// Validate pass that names the first offending item and is fatal at
// startup.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scada-sim/gridcore/internal/protection"
	"github.com/scada-sim/gridcore/internal/topology"
)

// NodeType discriminates which RTU specialization a NodeConfig builds.
type NodeType string

const (
	NodeGeneration   NodeType = "generation"
	NodeSubstation   NodeType = "substation"
	NodeDistribution NodeType = "distribution"
)

// GeneratorConfig mirrors topology.GeneratorParams with yaml tags.
type GeneratorConfig struct {
	Type       string  `yaml:"type"` // thermal|hydro|solar
	RatedMW    float64 `yaml:"rated_mw"`
	MinMW      float64 `yaml:"min_mw"`
	MaxMW      float64 `yaml:"max_mw"`
	InertiaH   float64 `yaml:"inertia_h"`
	DroopR     float64 `yaml:"droop_r"`
	GovernorTg float64 `yaml:"governor_tg"`
	RampMWMin  float64 `yaml:"ramp_mw_min"`
	CostA      float64 `yaml:"cost_a"`
	CostB      float64 `yaml:"cost_b"`
	CostC      float64 `yaml:"cost_c"`
	AGCEnabled bool    `yaml:"agc_enabled"`
}

// TransformerConfig mirrors topology.TransformerParams with yaml tags.
type TransformerConfig struct {
	RatedMVA    float64 `yaml:"rated_mva"`
	TurnsRatio  float64 `yaml:"turns_ratio"`
	TauOilSec   float64 `yaml:"tau_oil_s"`
	ExponentN   float64 `yaml:"exponent_n"`
	ExponentM   float64 `yaml:"exponent_m"`
	HotSpotH    float64 `yaml:"hot_spot_h"`
	DeltaThetaR float64 `yaml:"delta_theta_r"`
	OilRatedC   float64 `yaml:"oil_rated_c"`
	AmbientC    float64 `yaml:"ambient_c"`
	AlarmC      float64 `yaml:"alarm_c"`
	TripC       float64 `yaml:"trip_c"`
}

// DistributionConfig carries the peak load a distribution feeder scales
// by the load profile's factor each tick.
type DistributionConfig struct {
	PeakLoadMW float64 `yaml:"peak_load_mw"`
}

// NodeConfig is one bus/RTU-node entry in the topology.
type NodeConfig struct {
	Tag          string              `yaml:"tag"`
	Type         NodeType            `yaml:"type"`
	NominalKV    float64             `yaml:"nominal_kv"`
	CommonAddr   uint16              `yaml:"common_addr"`
	Generator    *GeneratorConfig    `yaml:"generator,omitempty"`
	Transformer  *TransformerConfig  `yaml:"transformer,omitempty"`
	Distribution *DistributionConfig `yaml:"distribution,omitempty"`
}

// LineConfig is one transport edge with per-unit impedance.
type LineConfig struct {
	From string  `yaml:"from"`
	To   string  `yaml:"to"`
	R    float64 `yaml:"r"`
	X    float64 `yaml:"x"`
	B    float64 `yaml:"b"`
}

// ProtectionConfig carries the global pickup/delay ratios applied to
// every node's relay, scaled by that node's own rated current/voltage.
type ProtectionConfig struct {
	OC51PickupMultiple       float64   `yaml:"oc51_pickup_multiple"`
	OC51TMS                  float64   `yaml:"oc51_tms"`
	OC51FloorSeconds         float64   `yaml:"oc51_floor_seconds"`
	OV59PickupMultiple       float64   `yaml:"ov59_pickup_multiple"`
	OV59DelaySeconds         float64   `yaml:"ov59_delay_seconds"`
	UV27PickupMultiple       float64   `yaml:"uv27_pickup_multiple"`
	UV27DelaySeconds         float64   `yaml:"uv27_delay_seconds"`
	UFLSStagesHz             []float64 `yaml:"ufls_stages_hz"`
	UFLSDelaySeconds         float64   `yaml:"ufls_delay_seconds"`
	UFLSShedPercent          []float64 `yaml:"ufls_shed_percent"`
	UFLSRecoveryHz           float64   `yaml:"ufls_recovery_hz"`
	DiffTurnsRatio           float64   `yaml:"diff_turns_ratio"`
	DiffPickupFraction       float64   `yaml:"diff_pickup_fraction"`
	DiffMinRestraintFraction float64   `yaml:"diff_min_restraint_fraction"`
}

// ToSettings derives a per-node protection.Settings from the global ratios
// and that node's rated current/voltage.
func (p ProtectionConfig) ToSettings(ratedA, ratedKV float64) protection.Settings {
	return protection.Settings{
		RatedCurrentA:      ratedA,
		RatedVoltageKV:     ratedKV,
		OC51PickupMultiple: p.OC51PickupMultiple,
		OC51TMS:            p.OC51TMS,
		OC51FloorSeconds:   p.OC51FloorSeconds,
		OV59PickupMultiple: p.OV59PickupMultiple,
		OV59DelaySeconds:   p.OV59DelaySeconds,
		UV27PickupMultiple: p.UV27PickupMultiple,
		UV27DelaySeconds:   p.UV27DelaySeconds,
		UFLSStagesHz:       p.UFLSStagesHz,
		UFLSDelaySeconds:   p.UFLSDelaySeconds,
		UFLSShedPercent:    p.UFLSShedPercent,
		UFLSRecoveryHz:     p.UFLSRecoveryHz,
		DiffTurnsRatio:     p.DiffTurnsRatio,
		DiffPickupA:        ratedA * p.DiffPickupFraction,
		DiffMinRestraintA:  ratedA * p.DiffMinRestraintFraction,
	}
}

// ModbusConfig is the Modbus/TCP listen-port configuration.
type ModbusConfig struct {
	PortBase int `yaml:"port_base"`
}

// DeadbandConfig is the change threshold required before a spontaneous
// IEC 104 transmission fires.
type DeadbandConfig struct {
	AnalogPct float64 `yaml:"analog_pct"`
}

// IEC104Config is the IEC 60870-5-104 listen-port and deadband
// configuration.
type IEC104Config struct {
	PortBase  int            `yaml:"port_base"`
	Deadbands DeadbandConfig `yaml:"deadbands"`
}

// LoggingConfig is the logging sink configuration shared by every
// component logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Config is the full startup configuration surface.
type Config struct {
	TimestepS          float64          `yaml:"timestep_s"`
	Realtime           bool             `yaml:"realtime"`
	StartTime          time.Time        `yaml:"start_time"`
	SystemBaseMVA      float64          `yaml:"system_base_mva"`
	NominalFrequencyHz float64          `yaml:"nominal_frequency_hz"`
	Nodes              []NodeConfig     `yaml:"nodes"`
	Lines              []LineConfig     `yaml:"lines"`
	Protection         ProtectionConfig `yaml:"protection"`
	Modbus             ModbusConfig     `yaml:"modbus"`
	IEC104             IEC104Config     `yaml:"iec104"`
	Logging            LoggingConfig    `yaml:"logging"`
}

// FromYAML decodes a raw YAML document over the reference defaults, so a
// partial file overrides only what it names, then validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a malformed configuration: an unknown node type, a
// line referencing a non-existent bus, or a zero reactance is fatal and
// names the first offending item.
func (c *Config) Validate() error {
	if c.TimestepS <= 0 {
		return fmt.Errorf("config: timestep_s must be positive, got %v", c.TimestepS)
	}
	if c.SystemBaseMVA <= 0 {
		return fmt.Errorf("config: system_base_mva must be positive, got %v", c.SystemBaseMVA)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("config: nodes[] must not be empty")
	}

	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.Tag == "" {
			return fmt.Errorf("config: nodes[%d] missing tag", i)
		}
		if seen[n.Tag] {
			return fmt.Errorf("config: duplicate node tag %q", n.Tag)
		}
		seen[n.Tag] = true

		switch n.Type {
		case NodeGeneration:
			if n.Generator == nil {
				return fmt.Errorf("config: node %q is type generation but has no generator block", n.Tag)
			}
		case NodeSubstation:
			if n.Transformer == nil {
				return fmt.Errorf("config: node %q is type substation but has no transformer block", n.Tag)
			}
		case NodeDistribution:
			if n.Distribution == nil {
				return fmt.Errorf("config: node %q is type distribution but has no distribution block", n.Tag)
			}
		default:
			return fmt.Errorf("config: node %q has unknown type %q", n.Tag, n.Type)
		}
	}

	for i, l := range c.Lines {
		if !seen[l.From] {
			return fmt.Errorf("config: lines[%d] references non-existent bus %q", i, l.From)
		}
		if !seen[l.To] {
			return fmt.Errorf("config: lines[%d] references non-existent bus %q", i, l.To)
		}
		if l.X == 0 {
			return fmt.Errorf("config: lines[%d] (%s-%s) has zero reactance", i, l.From, l.To)
		}
	}

	return nil
}

// Topology is the fully-materialized, immutable description assembled from
// a validated Config: the bus list, line list, and per-type parameter sets
// consumed by internal/powerflow, internal/frequency, internal/dispatch and
// internal/node. It is immutable for a run: loaded once and shared by
// reference.
type Topology struct {
	Buses        []topology.Bus
	Lines        []topology.Line
	Generators   []topology.GeneratorParams
	Transformers []topology.TransformerParams
	DistPeakMW   map[string]float64
	NodeConfigs  map[string]NodeConfig
	SlackBus     string
}

// BuildTopology materializes a Topology from a validated Config. The
// slack bus is the generation node with the largest rated MW.
func BuildTopology(c *Config) (*Topology, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	t := &Topology{
		DistPeakMW:  make(map[string]float64),
		NodeConfigs: make(map[string]NodeConfig, len(c.Nodes)),
	}

	var slackMW float64
	for _, n := range c.Nodes {
		t.NodeConfigs[n.Tag] = n
		bus := topology.Bus{Tag: n.Tag, NominalKV: n.NominalKV}
		switch n.Type {
		case NodeGeneration:
			bus.Class = topology.BusGeneration
			bus.HasGenerator = true
			bus.GeneratorIdx = len(t.Generators)
			gp := topology.GeneratorParams{
				Tag: n.Tag, Type: parseGenType(n.Generator.Type),
				RatedMW: n.Generator.RatedMW, MinMW: n.Generator.MinMW, MaxMW: n.Generator.MaxMW,
				InertiaH: n.Generator.InertiaH, DroopR: n.Generator.DroopR, GovernorTg: n.Generator.GovernorTg,
				RampMWMin: n.Generator.RampMWMin, CostA: n.Generator.CostA, CostB: n.Generator.CostB,
				CostC: n.Generator.CostC, AGCEnabled: n.Generator.AGCEnabled,
			}
			t.Generators = append(t.Generators, gp)
			if gp.RatedMW > slackMW {
				slackMW = gp.RatedMW
				t.SlackBus = n.Tag
			}
		case NodeSubstation:
			bus.Class = topology.BusTransmission
			bus.HasTransformer = true
			bus.TransformerIdx = len(t.Transformers)
			tp := topology.TransformerParams{
				Tag: n.Tag, RatedMVA: n.Transformer.RatedMVA, TurnsRatio: n.Transformer.TurnsRatio,
				TauOilSec: n.Transformer.TauOilSec, ExponentN: n.Transformer.ExponentN,
				ExponentM: n.Transformer.ExponentM, HotSpotH: n.Transformer.HotSpotH,
				DeltaThetaR: n.Transformer.DeltaThetaR, OilRatedC: n.Transformer.OilRatedC,
				AmbientC: n.Transformer.AmbientC,
				AlarmC:   n.Transformer.AlarmC, TripC: n.Transformer.TripC,
			}
			t.Transformers = append(t.Transformers, tp)
		case NodeDistribution:
			bus.Class = topology.BusDistribution
			t.DistPeakMW[n.Tag] = n.Distribution.PeakLoadMW
		}
		t.Buses = append(t.Buses, bus)
	}

	if t.SlackBus == "" {
		return nil, fmt.Errorf("config: no generation node found to designate as slack bus")
	}

	for _, l := range c.Lines {
		t.Lines = append(t.Lines, topology.Line{From: l.From, To: l.To, R: l.R, X: l.X, B: l.B})
	}

	return t, nil
}

func parseGenType(s string) topology.GeneratorType {
	switch s {
	case "hydro":
		return topology.GenHydro
	case "solar":
		return topology.GenSolar
	default:
		return topology.GenThermal
	}
}
