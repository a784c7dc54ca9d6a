package topology

// GeneratorType is the prime-mover category of a generator.
type GeneratorType int

const (
	GenThermal GeneratorType = iota
	GenHydro
	GenSolar
)

func (t GeneratorType) String() string {
	switch t {
	case GenThermal:
		return "thermal"
	case GenHydro:
		return "hydro"
	case GenSolar:
		return "solar"
	default:
		return "unknown"
	}
}

// GeneratorParams describes one generator's static rating and cost curve.
// Invariant: MinMW <= setpoint <= MaxMW is enforced by callers, not stored
// here (this struct is immutable configuration).
type GeneratorParams struct {
	Tag        string
	Type       GeneratorType
	RatedMW    float64
	MinMW      float64
	MaxMW      float64
	InertiaH   float64 // seconds; zero for solar/inverter-based resources
	DroopR     float64 // per-unit
	GovernorTg float64 // seconds
	RampMWMin  float64 // MW/min ramp limit
	CostA      float64 // C(P) = a*P^2 + b*P + c
	CostB      float64
	CostC      float64
	AGCEnabled bool
}

// MarginalCost returns dC/dP = 2aP + b at the given output.
func (g GeneratorParams) MarginalCost(p float64) float64 {
	return 2*g.CostA*p + g.CostB
}

// TotalCost returns C(P) = aP^2 + bP + c at the given output.
func (g GeneratorParams) TotalCost(p float64) float64 {
	return g.CostA*p*p + g.CostB*p + g.CostC
}

// Clamp constrains p to [MinMW, MaxMW].
func (g GeneratorParams) Clamp(p float64) float64 {
	if p < g.MinMW {
		return g.MinMW
	}
	if p > g.MaxMW {
		return g.MaxMW
	}
	return p
}
