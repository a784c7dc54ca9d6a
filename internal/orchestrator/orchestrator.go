// Package orchestrator implements the tick loop, protocol-server
// fan-out, and command routing: it owns the 15 RTU nodes, the
// electrical models (power flow, frequency, dispatch, and each substation's
// thermal model), and the simulation clock, and is the only caller of any
// node's update_electrical_state.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scada-sim/gridcore/internal/clog"
	"github.com/scada-sim/gridcore/internal/command"
	"github.com/scada-sim/gridcore/internal/config"
	"github.com/scada-sim/gridcore/internal/dispatch"
	"github.com/scada-sim/gridcore/internal/frequency"
	"github.com/scada-sim/gridcore/internal/iec104/asdu"
	"github.com/scada-sim/gridcore/internal/iec104/cs104"
	"github.com/scada-sim/gridcore/internal/metrics"
	"github.com/scada-sim/gridcore/internal/modbus"
	"github.com/scada-sim/gridcore/internal/node"
	"github.com/scada-sim/gridcore/internal/powerflow"
	"github.com/scada-sim/gridcore/internal/profile"
	"github.com/scada-sim/gridcore/internal/protection"
	"github.com/scada-sim/gridcore/internal/snapshot"
	"github.com/scada-sim/gridcore/internal/topology"
)

// assumed power factors used to split a bus's real-power injection into
// an active/reactive pair; the DC power-flow approximation carries no
// reactive component of its own, so these are a deliberate simplification
// rather than a solved quantity.
const (
	assumedGenPF  = 0.95
	assumedLoadPF = 0.92
)

// Orchestrator owns every RTU node, the shared electrical models, and
// the per-node protocol servers and command queues.
type Orchestrator struct {
	cfg  *config.Config
	topo *config.Topology
	log  clog.Clog

	pf   *powerflow.Solver
	freq *frequency.Model
	disp *dispatch.Dispatcher

	genNodes  map[string]*node.GenerationNode
	subNodes  map[string]*node.SubstationNode
	distNodes map[string]*node.DistributionNode

	genOrder  []string
	subOrder  []string
	distOrder []string

	queues map[string]*command.Queue

	modbusServers []*modbus.Server
	iec104Servers []*cs104.Server

	metrics *metrics.Metrics
	bus     *snapshot.Bus

	tickSeq            uint64
	lastLossMW         float64
	freqViolationCount uint64
	wasTripped         map[string]bool
	lastBreaker        map[string]node.BreakerPosition
}

// New builds the full node set, electrical models and protocol servers from
// a validated configuration. Nothing is listening yet; call Run to start.
func New(cfg *config.Config) (*Orchestrator, error) {
	topo, err := config.BuildTopology(cfg)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:         cfg,
		topo:        topo,
		log:         clog.NewLogger("orchestrator"),
		genNodes:    make(map[string]*node.GenerationNode),
		subNodes:    make(map[string]*node.SubstationNode),
		distNodes:   make(map[string]*node.DistributionNode),
		queues:      make(map[string]*command.Queue),
		metrics:     metrics.New(),
		bus:         snapshot.NewBus(),
		wasTripped:  make(map[string]bool),
		lastBreaker: make(map[string]node.BreakerPosition),
	}

	o.pf, err = powerflow.New(topo.Buses, topo.Lines, topo.SlackBus, cfg.SystemBaseMVA)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	o.freq = frequency.New(frequency.DefaultConfig(cfg.NominalFrequencyHz), topo.Generators)
	o.disp = dispatch.New(topo.Generators)

	for portOffset, bus := range topo.Buses {
		nc := topo.NodeConfigs[bus.Tag]
		ca := asdu.CommonAddr(nc.CommonAddr)

		var target command.Target
		var station cs104.Station
		var handler modbus.Handler

		switch bus.Class {
		case topology.BusGeneration:
			gp := topo.Generators[bus.GeneratorIdx]
			g := node.NewGenerationNode(gp, ca, bus.NominalKV, cfg.IEC104.Deadbands.AnalogPct)
			g.CloseBreaker("STARTUP")
			o.genNodes[bus.Tag] = g
			o.genOrder = append(o.genOrder, bus.Tag)
			target, station, handler = g, g, g
		case topology.BusTransmission:
			tp := topo.Transformers[bus.TransformerIdx]
			settings := cfg.Protection.ToSettings(ratedCurrentFor(tp.RatedMVA, bus.NominalKV), bus.NominalKV)
			s := node.NewSubstationNode(tp, ca, bus.NominalKV, settings, cfg.IEC104.Deadbands.AnalogPct)
			s.CloseBreaker("STARTUP")
			o.subNodes[bus.Tag] = s
			o.subOrder = append(o.subOrder, bus.Tag)
			target, station, handler = s, s, s
		case topology.BusDistribution:
			peak := topo.DistPeakMW[bus.Tag]
			settings := cfg.Protection.ToSettings(ratedCurrentFor(peak, bus.NominalKV), bus.NominalKV)
			d := node.NewDistributionNode(bus.Tag, peak, ca, bus.NominalKV, settings, cfg.IEC104.Deadbands.AnalogPct)
			d.CloseBreaker("STARTUP")
			o.distNodes[bus.Tag] = d
			o.distOrder = append(o.distOrder, bus.Tag)
			target, station, handler = d, d, d
		}

		q := command.NewQueue(bus.Tag, target, 64)
		o.queues[bus.Tag] = q

		tag := bus.Tag
		modbusAddr := fmt.Sprintf(":%d", cfg.Modbus.PortBase+portOffset)
		mserv := modbus.NewServer(modbusAddr, 1, handler)
		mserv.OnRequest = func(fc modbus.FunctionCode) {
			o.metrics.ModbusRequests.WithLabelValues(tag, fc.String()).Inc()
		}
		o.modbusServers = append(o.modbusServers, mserv)

		iec104Addr := fmt.Sprintf(":%d", cfg.IEC104.PortBase+portOffset)
		srv, err := cs104.NewServer(iec104Addr, cs104.DefaultConfig(), station)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: node %s: %w", bus.Tag, err)
		}
		srv.OnActivation = func(phase string) {
			o.metrics.IEC104Activations.WithLabelValues(tag, phase).Inc()
		}
		o.iec104Servers = append(o.iec104Servers, srv)
	}

	return o, nil
}

// ratedCurrentFor approximates a node's rated current from its peak MW
// (or MVA) rating at unity-adjacent power factor, for sizing its
// protection relay pickups.
func ratedCurrentFor(peakMW, nominalKV float64) float64 {
	if nominalKV <= 0 {
		return 0
	}
	return peakMW * 1000 / (math.Sqrt(3) * nominalKV)
}

// Metrics exposes the orchestrator's private Prometheus registry and
// collectors for an embedding binary to expose however it likes; nothing
// here starts an HTTP endpoint.
func (o *Orchestrator) Metrics() *metrics.Metrics { return o.metrics }

// Snapshots subscribes to the per-tick publication bus.
func (o *Orchestrator) Snapshots() (<-chan *snapshot.System, func()) { return o.bus.Subscribe() }

// LatestSnapshot returns the most recently published snapshot, or nil before
// the first tick completes.
func (o *Orchestrator) LatestSnapshot() *snapshot.System { return o.bus.Latest() }

// Submit routes one external command to its target node's serialized
// queue; returns false if the node is unknown or its queue is saturated
// (the command.StatusBusy outcome).
func (o *Orchestrator) Submit(cmd command.NodeCommand) bool {
	q, ok := o.queues[cmd.NodeTag]
	if !ok {
		return false
	}
	ok = q.Submit(cmd)
	o.metrics.CommandsTotal.WithLabelValues(cmd.NodeTag, cmd.Kind.String(), submitOutcome(ok)).Inc()
	return ok
}

func submitOutcome(ok bool) string {
	if ok {
		return "accepted"
	}
	return "busy"
}

// Run starts every command queue, every protocol server, and the tick
// loop, and blocks until ctx is cancelled or a fatal error occurs in any
// of them.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for tag, q := range o.queues {
		q := q
		tag := tag
		g.Go(func() error {
			if err := q.Run(ctx); err != nil {
				return fmt.Errorf("orchestrator: command queue %s: %w", tag, err)
			}
			return nil
		})
	}
	for _, srv := range o.modbusServers {
		srv := srv
		g.Go(func() error { return srv.Run(ctx) })
	}
	for _, srv := range o.iec104Servers {
		srv := srv
		g.Go(func() error { return srv.Run(ctx) })
	}
	g.Go(func() error { return o.runTicks(ctx) })

	return g.Wait()
}

// runTicks executes the fixed-step loop until ctx is cancelled. In
// real-time mode each tick sleeps out the remainder of dt; in batch mode
// it proceeds as fast as possible.
func (o *Orchestrator) runTicks(ctx context.Context) error {
	dt := time.Duration(o.cfg.TimestepS * float64(time.Second))
	if dt <= 0 {
		return fmt.Errorf("orchestrator: non-positive timestep_s %v", o.cfg.TimestepS)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		start := time.Now()
		o.tick(dt)

		if o.cfg.Realtime {
			elapsed := time.Since(start)
			if remaining := dt - elapsed; remaining > 0 {
				select {
				case <-time.After(remaining):
				case <-ctx.Done():
					return nil
				}
			}
		}
		o.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// tick advances the simulation one step: profiles, dispatch, power flow,
// frequency, per-node state, counters, snapshot.
func (o *Orchestrator) tick(dt time.Duration) {
	// 1. Simulated wall-clock.
	simNow := o.cfg.StartTime.Add(time.Duration(o.tickSeq) * dt)

	// 2. Load profile -> instantaneous distribution loads.
	loadFactor := profile.LoadFactor(simNow)
	loadMW := make(map[string]float64, len(o.distOrder))
	var totalLoad float64
	for _, tag := range o.distOrder {
		l := o.topo.DistPeakMW[tag] * loadFactor
		loadMW[tag] = l
		totalLoad += l
	}

	// 3. Solar profile.
	solarFactor := profile.SolarAvailability(simNow)

	// 4. Economic dispatch against forecast demand plus the previous tick's
	// loss estimate (this tick's own losses are not known until step 6).
	var solarRatedMW float64
	for _, tag := range o.genOrder {
		if o.genNodes[tag].Params.Type == topology.GenSolar {
			solarRatedMW = o.genNodes[tag].Params.RatedMW
		}
	}
	dispatchResult := o.disp.Dispatch(totalLoad+o.lastLossMW, solarFactor*solarRatedMW)

	genMW := make(map[string]float64, len(o.genOrder))
	for _, a := range dispatchResult.Allocations {
		genMW[a.Tag] = a.MW
	}

	// 5. Push each generator's new setpoint through its holding register
	// (this also appends an SOE record for the change).
	for _, tag := range o.genOrder {
		if err := o.genNodes[tag].ApplyDispatchMW(genMW[tag]); err != nil {
			o.log.Warn("orchestrator: %s: applying dispatch setpoint: %v", tag, err)
		}
		o.freq.SetSetpoint(tag, genMW[tag])
	}

	// 6. DC power flow.
	pfResult := o.pf.Solve(genMW, loadMW)
	if !pfResult.Converged {
		o.log.Warn("orchestrator: power flow did not converge at tick %d, retaining previous angles", o.tickSeq)
	} else if pfResult.Residual > 0.1 {
		o.log.Warn("orchestrator: power balance residual %.3f MW at tick %d", pfResult.Residual, o.tickSeq)
	}
	o.lastLossMW = pfResult.TotalLossMW

	// 7. Frequency model.
	o.freq.Step(dt.Seconds(), totalLoad, pfResult.TotalLossMW)
	freqHz := o.freq.Freq

	// 8. Per-bus electrical state.
	for _, bus := range o.topo.Buses {
		o.updateBus(bus, pfResult, genMW, loadMW, freqHz, dt, simNow)
	}

	// 9. Advance counters.
	o.tickSeq++
	if math.Abs(freqHz-o.cfg.NominalFrequencyHz) > 0.5 {
		o.freqViolationCount++
	}

	o.publishSnapshot(simNow, freqHz, pfResult, totalLoad, dispatchResult.UnderGeneration)

	o.metrics.TicksTotal.Inc()
	o.metrics.FrequencyHz.Set(freqHz)
	o.metrics.ROCOFHzPerS.Set(o.freq.ROCOF())
	o.metrics.TotalGenerationMW.Set(pfResult.TotalGenMW)
	o.metrics.TotalLoadMW.Set(totalLoad)
	o.metrics.TotalLossesMW.Set(pfResult.TotalLossMW)
	if dispatchResult.UnderGeneration {
		o.metrics.UnderGeneration.Set(1)
	} else {
		o.metrics.UnderGeneration.Set(0)
	}
}

// lineCurrentA sums |I_line| over every line incident to tag,
// approximating each line's current from its solved MW flow and the bus's
// own nominal voltage.
func (o *Orchestrator) lineCurrentA(tag string, nominalKV float64, pf powerflow.Result) float64 {
	if nominalKV <= 0 {
		return 0
	}
	var total float64
	for _, flow := range pf.Flows {
		if flow.Line.From != tag && flow.Line.To != tag {
			continue
		}
		total += math.Abs(flow.MW) * 1000 / (math.Sqrt(3) * nominalKV)
	}
	return total
}

func (o *Orchestrator) updateBus(bus topology.Bus, pf powerflow.Result, genMW, loadMW map[string]float64, freqHz float64, dt time.Duration, at time.Time) {
	angle := pf.Angles[bus.Tag]
	vpu := pf.VoltagePU[bus.Tag]
	if vpu == 0 {
		vpu = 1.0
	}
	voltageKV := bus.NominalKV * vpu
	currentA := o.lineCurrentA(bus.Tag, bus.NominalKV, pf)

	switch bus.Class {
	case topology.BusGeneration:
		g := o.genNodes[bus.Tag]
		activeMW := genMW[bus.Tag]
		reactiveMVAr := activeMW * math.Tan(math.Acos(assumedGenPF))
		g.UpdateElectricalState(voltageKV, angle, currentA, activeMW, reactiveMVAr, freqHz, dt, at)
		g.UpdateGeneratorOutput(activeMW, reactiveMVAr)
		g.CheckSynchronization(voltageKV, angle)
		o.observeTripTransition(bus.Tag, g.Relay)
		o.observeBreaker(bus.Tag, g.Breaker)

	case topology.BusTransmission:
		s := o.subNodes[bus.Tag]
		loadMVA := transformerLoadingMVA(bus.Tag, pf)
		// The relay's CT sits on the transformer primary, so the node's
		// measured current is the through-flow current, not the raw sum
		// over incident lines (which counts the same power entering and
		// leaving the bus).
		xfmrA := 0.0
		if bus.NominalKV > 0 {
			xfmrA = loadMVA * 1000 / (math.Sqrt(3) * bus.NominalKV)
		}
		s.UpdateElectricalState(voltageKV, angle, xfmrA, 0, 0, freqHz, dt, at)
		s.UpdateLineCurrents(currentA, currentA, currentA)
		s.AutoOLTCTick(voltageKV)
		s.UpdateThermal(dt, loadMVA)
		o.observeTripTransition(bus.Tag, s.Relay)
		o.observeBreaker(bus.Tag, s.Breaker)

	case topology.BusDistribution:
		d := o.distNodes[bus.Tag]
		activeMW := loadMW[bus.Tag]
		reactiveMVAr := activeMW * math.Tan(math.Acos(assumedLoadPF))
		d.UpdateElectricalState(voltageKV, angle, currentA, activeMW, reactiveMVAr, freqHz, dt, at)
		d.UpdateFeederTelemetry(activeMW, currentA, voltageKV, voltageKV, voltageKV)
		d.AutoCapacitorTick(assumedLoadPF)
		if d.Relay != nil {
			ufls := d.Relay.UFLS()
			stage := 0
			switch {
			case ufls.Stage3:
				stage = 3
			case ufls.Stage2:
				stage = 2
			case ufls.Stage1:
				stage = 1
			}
			d.UFLSStagesChanged(stage, d.Relay.Settings.UFLSShedPercent)
		}
		o.observeTripTransition(bus.Tag, d.Relay)
		o.observeBreaker(bus.Tag, d.Breaker)
	}
}

// observeBreaker increments the breaker-operations counter exactly once per
// position change, not once per tick while a position holds.
func (o *Orchestrator) observeBreaker(tag string, pos node.BreakerPosition) {
	last, ok := o.lastBreaker[tag]
	o.lastBreaker[tag] = pos
	if ok && last != pos {
		o.metrics.BreakerOps.WithLabelValues(tag).Inc()
	}
}

// observeTripTransition increments the protection-trip counter exactly once
// per new latch, not once per tick while a trip remains latched.
func (o *Orchestrator) observeTripTransition(tag string, relay *protection.Relay) {
	if relay == nil {
		return
	}
	if relay.Tripped && !o.wasTripped[tag] {
		o.metrics.ProtectionTrips.WithLabelValues(tag, relay.TripReason.String()).Inc()
	}
	o.wasTripped[tag] = relay.Tripped
}

// transformerLoadingMVA approximates the apparent power flowing through a
// substation's transformer as half the sum of |MW| flow on its incident
// lines (each unit of through-flow touches the bus on both an upstream and
// a downstream line, so the raw sum double-counts it).
func transformerLoadingMVA(tag string, pf powerflow.Result) float64 {
	var sum float64
	for _, flow := range pf.Flows {
		if flow.Line.From == tag || flow.Line.To == tag {
			sum += math.Abs(flow.MW)
		}
	}
	return sum / 2
}

func (o *Orchestrator) publishSnapshot(at time.Time, freqHz float64, pf powerflow.Result, totalLoad float64, underGen bool) {
	nodes := make(map[string]snapshot.NodeState, len(o.topo.Buses))
	for _, bus := range o.topo.Buses {
		var ns snapshot.NodeState
		switch bus.Class {
		case topology.BusGeneration:
			g := o.genNodes[bus.Tag]
			ns = nodeStateFromBase(g.Tag, g.Elec, g.Breaker, g.Relay)
		case topology.BusTransmission:
			s := o.subNodes[bus.Tag]
			ns = nodeStateFromBase(s.Tag, s.Elec, s.Breaker, s.Relay)
			if s.Thermal.AlarmLatched {
				ns.Alarms = append(ns.Alarms, "THERMAL_ALARM")
			}
			if s.Thermal.TripLatched {
				ns.Alarms = append(ns.Alarms, "THERMAL_TRIP")
			}
		case topology.BusDistribution:
			d := o.distNodes[bus.Tag]
			ns = nodeStateFromBase(d.Tag, d.Elec, d.Breaker, d.Relay)
		}
		nodes[bus.Tag] = ns
	}

	o.bus.Publish(&snapshot.System{
		Timestamp:         at,
		TickSeq:           o.tickSeq,
		FrequencyHz:       freqHz,
		ROCOFHzPerS:       o.freq.ROCOF(),
		TotalGenerationMW: pf.TotalGenMW,
		TotalLoadMW:       totalLoad,
		TotalLossesMW:     pf.TotalLossMW,
		UnderGeneration:   underGen,
		Nodes:             nodes,
	})
}

func nodeStateFromBase(tag string, elec node.Electrical, breaker node.BreakerPosition, relay *protection.Relay) snapshot.NodeState {
	ns := snapshot.NodeState{
		Tag:           tag,
		VoltageKV:     elec.VoltageKV,
		FrequencyHz:   elec.FrequencyHz,
		ActiveMW:      elec.ActiveMW,
		ReactiveMVAr:  elec.ReactiveMVAr,
		PowerFactor:   elec.PowerFactor,
		BreakerClosed: breaker == node.BreakerClosed,
	}
	if relay != nil && relay.Tripped {
		ns.ProtectionTripped = true
		ns.TripReason = relay.TripReason.String()
		ns.Alarms = append(ns.Alarms, "PROTECTION_TRIP:"+ns.TripReason)
	}
	return ns
}
