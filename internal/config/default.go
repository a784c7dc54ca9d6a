package config

import "time"

// DefaultConfig returns the reference 15-bus topology: three generation
// nodes (thermal, hydro, solar), seven transmission substations, and five
// distribution feeders, wired into a ring-and-spoke network.
func DefaultConfig() *Config {
	return &Config{
		TimestepS:          1.0,
		Realtime:           false,
		StartTime:          time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC),
		SystemBaseMVA:      100,
		NominalFrequencyHz: 50,
		Nodes: []NodeConfig{
			{
				Tag: "GEN-001", Type: NodeGeneration, NominalKV: 230, CommonAddr: 1,
				Generator: &GeneratorConfig{
					Type: "thermal", RatedMW: 300, MinMW: 100, MaxMW: 300,
					InertiaH: 4.5, DroopR: 0.05, GovernorTg: 5, RampMWMin: 10,
					CostA: 0.004, CostB: 18, CostC: 200, AGCEnabled: true,
				},
			},
			{
				Tag: "GEN-002", Type: NodeGeneration, NominalKV: 230, CommonAddr: 2,
				Generator: &GeneratorConfig{
					Type: "hydro", RatedMW: 150, MinMW: 40, MaxMW: 150,
					InertiaH: 3.0, DroopR: 0.04, GovernorTg: 2, RampMWMin: 15,
					CostA: 0.006, CostB: 15, CostC: 100, AGCEnabled: true,
				},
			},
			{
				Tag: "GEN-003", Type: NodeGeneration, NominalKV: 230, CommonAddr: 3,
				Generator: &GeneratorConfig{
					Type: "solar", RatedMW: 100, MinMW: 0, MaxMW: 100,
					InertiaH: 0, DroopR: 0, GovernorTg: 0, RampMWMin: 1e9,
					CostA: 0, CostB: 0, CostC: 0, AGCEnabled: false,
				},
			},
			{
				Tag: "SUB-001", Type: NodeSubstation, NominalKV: 230, CommonAddr: 11,
				Transformer: &TransformerConfig{
					RatedMVA: 300, TurnsRatio: 230.0 / 69.0, TauOilSec: 180 * 60,
					ExponentN: 0.8, ExponentM: 0.8, HotSpotH: 1.3, DeltaThetaR: 20, OilRatedC: 65,
					AmbientC: 25, AlarmC: 98, TripC: 110,
				},
			},
			{
				Tag: "SUB-002", Type: NodeSubstation, NominalKV: 230, CommonAddr: 12,
				Transformer: &TransformerConfig{
					RatedMVA: 300, TurnsRatio: 230.0 / 69.0, TauOilSec: 180 * 60,
					ExponentN: 0.8, ExponentM: 0.8, HotSpotH: 1.3, DeltaThetaR: 20, OilRatedC: 65,
					AmbientC: 25, AlarmC: 98, TripC: 110,
				},
			},
			{
				Tag: "SUB-003", Type: NodeSubstation, NominalKV: 230, CommonAddr: 13,
				Transformer: &TransformerConfig{
					RatedMVA: 200, TurnsRatio: 230.0 / 69.0, TauOilSec: 180 * 60,
					ExponentN: 0.8, ExponentM: 0.8, HotSpotH: 1.3, DeltaThetaR: 20, OilRatedC: 65,
					AmbientC: 25, AlarmC: 98, TripC: 110,
				},
			},
			{
				Tag: "SUB-004", Type: NodeSubstation, NominalKV: 69, CommonAddr: 14,
				Transformer: &TransformerConfig{
					RatedMVA: 120, TurnsRatio: 69.0 / 13.8, TauOilSec: 150 * 60,
					ExponentN: 0.8, ExponentM: 0.8, HotSpotH: 1.3, DeltaThetaR: 18, OilRatedC: 63,
					AmbientC: 25, AlarmC: 95, TripC: 105,
				},
			},
			{
				Tag: "SUB-005", Type: NodeSubstation, NominalKV: 69, CommonAddr: 15,
				Transformer: &TransformerConfig{
					RatedMVA: 150, TurnsRatio: 69.0 / 13.8, TauOilSec: 150 * 60,
					ExponentN: 0.8, ExponentM: 0.8, HotSpotH: 1.3, DeltaThetaR: 18, OilRatedC: 63,
					AmbientC: 25, AlarmC: 95, TripC: 105,
				},
			},
			{
				Tag: "SUB-006", Type: NodeSubstation, NominalKV: 69, CommonAddr: 16,
				Transformer: &TransformerConfig{
					RatedMVA: 200, TurnsRatio: 69.0 / 13.8, TauOilSec: 150 * 60,
					ExponentN: 0.8, ExponentM: 0.8, HotSpotH: 1.3, DeltaThetaR: 18, OilRatedC: 63,
					AmbientC: 25, AlarmC: 95, TripC: 105,
				},
			},
			{
				Tag: "SUB-007", Type: NodeSubstation, NominalKV: 69, CommonAddr: 17,
				Transformer: &TransformerConfig{
					RatedMVA: 100, TurnsRatio: 69.0 / 13.8, TauOilSec: 150 * 60,
					ExponentN: 0.8, ExponentM: 0.8, HotSpotH: 1.3, DeltaThetaR: 18, OilRatedC: 63,
					AmbientC: 25, AlarmC: 95, TripC: 105,
				},
			},
			{
				Tag: "DIST-001", Type: NodeDistribution, NominalKV: 13.8, CommonAddr: 21,
				Distribution: &DistributionConfig{PeakLoadMW: 85},
			},
			{
				Tag: "DIST-002", Type: NodeDistribution, NominalKV: 13.8, CommonAddr: 22,
				Distribution: &DistributionConfig{PeakLoadMW: 120},
			},
			{
				Tag: "DIST-003", Type: NodeDistribution, NominalKV: 13.8, CommonAddr: 23,
				Distribution: &DistributionConfig{PeakLoadMW: 95},
			},
			{
				Tag: "DIST-004", Type: NodeDistribution, NominalKV: 13.8, CommonAddr: 24,
				Distribution: &DistributionConfig{PeakLoadMW: 90},
			},
			{
				Tag: "DIST-005", Type: NodeDistribution, NominalKV: 13.8, CommonAddr: 25,
				Distribution: &DistributionConfig{PeakLoadMW: 110},
			},
		},
		Lines: []LineConfig{
			{From: "GEN-001", To: "SUB-001", R: 0.002, X: 0.02, B: 0.01},
			{From: "GEN-002", To: "SUB-002", R: 0.003, X: 0.025, B: 0.01},
			{From: "GEN-003", To: "SUB-003", R: 0.004, X: 0.03, B: 0.005},
			{From: "SUB-001", To: "SUB-002", R: 0.004, X: 0.04, B: 0.02},
			{From: "SUB-002", To: "SUB-003", R: 0.004, X: 0.04, B: 0.02},
			{From: "SUB-001", To: "SUB-004", R: 0.006, X: 0.05, B: 0.015},
			{From: "SUB-002", To: "SUB-005", R: 0.006, X: 0.05, B: 0.015},
			{From: "SUB-003", To: "SUB-006", R: 0.006, X: 0.05, B: 0.015},
			{From: "SUB-004", To: "SUB-007", R: 0.005, X: 0.045, B: 0.012},
			{From: "SUB-005", To: "SUB-007", R: 0.005, X: 0.045, B: 0.012},
			{From: "SUB-004", To: "DIST-001", R: 0.01, X: 0.06, B: 0},
			{From: "SUB-005", To: "DIST-002", R: 0.01, X: 0.06, B: 0},
			{From: "SUB-006", To: "DIST-003", R: 0.01, X: 0.06, B: 0},
			{From: "SUB-007", To: "DIST-004", R: 0.01, X: 0.06, B: 0},
			{From: "SUB-006", To: "DIST-005", R: 0.012, X: 0.065, B: 0},
		},
		Protection: ProtectionConfig{
			OC51PickupMultiple: 1.2, OC51TMS: 1.0, OC51FloorSeconds: 5,
			OV59PickupMultiple: 1.10, OV59DelaySeconds: 2,
			UV27PickupMultiple: 0.85, UV27DelaySeconds: 3,
			UFLSStagesHz: []float64{49.5, 49.2, 48.8}, UFLSDelaySeconds: 0.5,
			UFLSShedPercent: []float64{10, 15, 20}, UFLSRecoveryHz: 49.7,
			DiffTurnsRatio: 1.0, DiffPickupFraction: 0.2, DiffMinRestraintFraction: 0.1,
		},
		Modbus:  ModbusConfig{PortBase: 15020},
		IEC104:  IEC104Config{PortBase: 12404, Deadbands: DeadbandConfig{AnalogPct: 0.01}},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
