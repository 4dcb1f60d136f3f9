package ecu

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rob9206/dynoai/ve"
)

// RAirJPerKgK is the specific gas constant for dry air, J/(kg*K).
const RAirJPerKgK = 287.058

// kelvinOffset converts the Celsius IAT samples carried elsewhere in this
// package to Kelvin for the ideal gas law.
const kelvinOffset = 273.15

// Engine is a deterministic virtual engine: it carries the true VE
// surface (actualVE) the calibration is chasing and the ECU's current
// belief about that surface (ecuVE), independently per cylinder. Every
// method is a pure function of its inputs and the engine's seeded noise
// source, so two engines built with the same seed produce identical
// traces.
type Engine struct {
	grid                *ve.Grid
	actualVEFront        *ve.Table
	actualVERear         *ve.Table
	ecuVEFront           *ve.Table
	ecuVERear            *ve.Table
	displacementM3PerCyl float64 // swept volume per cylinder, cubic meters
	noiseStdDevAFR       float64
	rng                  *rand.Rand
}

// NewEngine constructs a virtual twin-cylinder engine. displacementCC is
// the per-cylinder swept volume in cubic centimeters (a typical
// large-twin value is in the 600-750cc range). noiseStdDevAFR is the
// standard deviation of the zero-mean Gaussian measurement noise added
// to every simulated AFR reading; 0 disables noise entirely.
func NewEngine(grid *ve.Grid, actualVEFront, actualVERear, ecuVEFront, ecuVERear *ve.Table, displacementCC float64, noiseStdDevAFR float64, seed int64) (*Engine, error) {
	if err := actualVEFront.CheckDims(grid); err != nil {
		return nil, err
	}
	if err := ecuVEFront.CheckDims(grid); err != nil {
		return nil, err
	}
	if actualVERear != nil {
		if err := actualVERear.CheckDims(grid); err != nil {
			return nil, err
		}
	}
	if ecuVERear != nil {
		if err := ecuVERear.CheckDims(grid); err != nil {
			return nil, err
		}
	}
	if displacementCC <= 0 {
		return nil, fmt.Errorf("%w: displacement_cc must be > 0", ve.ErrInvalidInput)
	}
	return &Engine{
		grid:                 grid,
		actualVEFront:        actualVEFront,
		actualVERear:         actualVERear,
		ecuVEFront:           ecuVEFront,
		ecuVERear:            ecuVERear,
		displacementM3PerCyl: displacementCC * 1e-6,
		noiseStdDevAFR:       noiseStdDevAFR,
		rng:                  rand.New(rand.NewSource(seed)),
	}, nil
}

// SetECUTable replaces the engine's belief about a cylinder's VE
// surface, called by the closed-loop orchestrator after each accepted
// Apply so the next simulated iteration reflects the corrected table.
func (e *Engine) SetECUTable(cyl ve.Cylinder, table *ve.Table) error {
	if err := table.CheckDims(e.grid); err != nil {
		return err
	}
	if cyl == ve.Rear {
		e.ecuVERear = table
		return nil
	}
	e.ecuVEFront = table
	return nil
}

func (e *Engine) actualVE(cyl ve.Cylinder) *ve.Table {
	if cyl == ve.Rear && e.actualVERear != nil {
		return e.actualVERear
	}
	return e.actualVEFront
}

func (e *Engine) ecuVE(cyl ve.Cylinder) *ve.Table {
	if cyl == ve.Rear && e.ecuVERear != nil {
		return e.ecuVERear
	}
	return e.ecuVEFront
}

// airMassKg is the ideal-gas cylinder air mass P*V/(R_air*T) for one
// intake event, mapKPa in kPa and iatC in Celsius.
func airMassKg(veFrac, mapKPa, iatC, displacementM3 float64) float64 {
	pPa := mapKPa * 1000
	tKelvin := iatC + kelvinOffset
	return veFrac * pPa * displacementM3 / (RAirJPerKgK * tKelvin)
}

// Simulate reports the wideband-measured AFR at one operating point.
// Internally it derives the actual air mass pulled into the cylinder
// from actualVE and the fuel mass the ECU metered assuming its own
// (possibly wrong) ecuVE belief at the same commanded AFR. Their ratio
// collapses to afr_measured = afr_target * (ve_actual/ve_ecu), reached
// here through both air masses so the ideal gas law does real work
// rather than standing in as a restated formula.
func (e *Engine) Simulate(rpm, mapKPa, iatC, afrTarget float64, cyl ve.Cylinder) (float64, error) {
	veActual, err := e.grid.Interpolate(e.actualVE(cyl), rpm, mapKPa)
	if err != nil {
		return 0, err
	}
	veECU, err := e.grid.Interpolate(e.ecuVE(cyl), rpm, mapKPa)
	if err != nil {
		return 0, err
	}
	if veECU <= 0 {
		return 0, fmt.Errorf("%w: ecu VE belief at rpm=%.0f map=%.1f is non-positive", ve.ErrInvariantViolation, rpm, mapKPa)
	}

	actualAirMass := airMassKg(veActual, mapKPa, iatC, e.displacementM3PerCyl)
	ecuAirMassBelief := airMassKg(veECU, mapKPa, iatC, e.displacementM3PerCyl)
	fuelMass := ecuAirMassBelief / afrTarget

	afrMeasured := actualAirMass / fuelMass
	if e.noiseStdDevAFR > 0 {
		afrMeasured += e.rng.NormFloat64() * e.noiseStdDevAFR
	}
	if math.IsNaN(afrMeasured) || math.IsInf(afrMeasured, 0) {
		return 0, fmt.Errorf("%w: simulated AFR is non-finite", ve.ErrInvariantViolation)
	}
	return afrMeasured, nil
}

// SweepPoint is one commanded operating point in a synthetic log sweep.
type SweepPoint struct {
	RPM      float64
	MAPKPa   float64
	IATC     float64
	AFRTarget float64
}

// GenerateLog simulates measured AFR at every sweep point for both
// cylinders (rear is skipped if the engine has no rear tables) and
// returns one LogSample per point, in sweep order, ready for
// ve.Aggregate.
func (e *Engine) GenerateLog(points []SweepPoint) ([]ve.LogSample, error) {
	samples := make([]ve.LogSample, 0, len(points))
	for idx, p := range points {
		measF, err := e.Simulate(p.RPM, p.MAPKPa, p.IATC, p.AFRTarget, ve.Front)
		if err != nil {
			return nil, fmt.Errorf("sweep point %d (front): %w", idx, err)
		}
		sample := ve.LogSample{
			RPM:      ve.Some(p.RPM),
			MAPKPa:   ve.Some(p.MAPKPa),
			IAT:      ve.Some(p.IATC),
			AFRCmdF:  ve.Some(p.AFRTarget),
			AFRMeasF: ve.Some(measF),
			Timestamp: ve.Some(float64(idx)),
		}
		if e.actualVERear != nil {
			measR, err := e.Simulate(p.RPM, p.MAPKPa, p.IATC, p.AFRTarget, ve.Rear)
			if err != nil {
				return nil, fmt.Errorf("sweep point %d (rear): %w", idx, err)
			}
			sample.AFRCmdR = ve.Some(p.AFRTarget)
			sample.AFRMeasR = ve.Some(measR)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}
