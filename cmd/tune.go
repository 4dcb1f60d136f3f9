package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rob9206/dynoai/api"
	"github.com/rob9206/dynoai/ve"
	"github.com/rob9206/dynoai/ve/ecu"
	"github.com/rob9206/dynoai/ve/orchestrator"
)

var (
	tuneBaseFront    string
	tuneBaseRear     string
	tuneAFRTarget    string
	tuneActualFront  string
	tuneActualRear   string
	tuneScenario     string
	tuneMaxIter      int
	tuneThreshold    float64
	tuneSeed         int64
	tuneDisplacement float64
	tuneIATC         float64
)

// scenarioMultiplier returns the multiplicative mismatch between the
// engine's true VE surface and the ECU's starting belief for each
// built-in scenario: 1.0 means no mismatch (perfect), >1 means the
// engine actually flows more air than the ECU believes (lean), <1 means
// less (rich).
func scenarioMultiplier(scenario string) (float64, error) {
	switch scenario {
	case "perfect":
		return 1.0, nil
	case "lean":
		return 1.10, nil
	case "rich":
		return 0.90, nil
	case "custom":
		return 0, nil // caller supplies --actual-front/--actual-rear directly
	default:
		return 0, fmt.Errorf("%w: unknown scenario %q (want perfect, lean, rich, custom)", ve.ErrInvalidInput, scenario)
	}
}

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Run a closed-loop tuning session against a virtual ECU",
	RunE: func(cmd *cobra.Command, args []string) error {
		grid, baseFront, err := loadBaseVE(tuneBaseFront, ve.UnitVE)
		if err != nil {
			return fmt.Errorf("loading base-front: %w", err)
		}
		var baseRear *ve.Table
		if tuneBaseRear != "" {
			gridRear, b, err := loadBaseVE(tuneBaseRear, ve.UnitVE)
			if err != nil {
				return fmt.Errorf("loading base-rear: %w", err)
			}
			if !gridRear.Equal(grid) {
				return fmt.Errorf("%w: base-rear grid does not match base-front grid", ve.ErrMismatchedDimensions)
			}
			baseRear = b
		}

		gridTarget, afrTarget, err := loadBaseVE(tuneAFRTarget, ve.UnitAFRTarget)
		if err != nil {
			return fmt.Errorf("loading afr-target: %w", err)
		}
		if !gridTarget.Equal(grid) {
			return fmt.Errorf("%w: afr-target grid does not match base-front grid", ve.ErrMismatchedDimensions)
		}

		mult, err := scenarioMultiplier(tuneScenario)
		if err != nil {
			return err
		}

		actualFront := baseFront
		var actualRear *ve.Table
		if tuneScenario == "custom" {
			if tuneActualFront == "" {
				return fmt.Errorf("%w: --actual-front is required for scenario=custom", ve.ErrInvalidInput)
			}
			_, actualFront, err = loadBaseVE(tuneActualFront, ve.UnitVE)
			if err != nil {
				return fmt.Errorf("loading actual-front: %w", err)
			}
			if tuneActualRear != "" {
				_, actualRear, err = loadBaseVE(tuneActualRear, ve.UnitVE)
				if err != nil {
					return fmt.Errorf("loading actual-rear: %w", err)
				}
			}
		} else {
			actualFront = scaleTable(grid, baseFront, mult)
			if baseRear != nil {
				actualRear = scaleTable(grid, baseRear, mult)
			}
		}

		cfg := ve.DefaultConfig()
		cfg.MaxIterations = tuneMaxIter
		cfg.ConvergenceThresholdAFR = tuneThreshold
		cfg.Seed = tuneSeed
		if err := cfg.Validate(); err != nil {
			return err
		}

		engine, err := ecu.NewEngine(grid, actualFront, actualRear, baseFront, baseRear, tuneDisplacement, 0, tuneSeed)
		if err != nil {
			return err
		}

		sweep := buildSweep(grid, afrTarget, tuneIATC)

		reg := orchestrator.NewRegistry()
		result, err := api.Tune(context.Background(), reg, nil, api.TuneOptions{
			Grid:        grid,
			Engine:      engine,
			Sweep:       sweep,
			BaseVEFront: baseFront,
			BaseVERear:  baseRear,
			Config:      cfg,
		})
		if err != nil {
			logrus.Warnf("dynoai tune: session %s ended %s: %v", result.SessionID, result.FinalState, err)
			return err
		}
		logrus.Infof("dynoai tune: session %s converged in %d iterations", result.SessionID, len(result.History))
		return nil
	},
}

// scaleTable multiplies every cell of t by factor, used to synthesize a
// "true" VE surface that differs from the ECU's belief by a uniform
// percentage for the built-in lean/rich scenarios.
func scaleTable(grid *ve.Grid, t *ve.Table, factor float64) *ve.Table {
	out := ve.NewTable(grid, t.Unit())
	rows, cols := grid.NumRPM(), grid.NumMAP()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, t.At(i, j)*factor)
		}
	}
	return out
}

// buildSweep enumerates every grid cell as one simulated operating
// point, using the afr-target table for the commanded AFR at that cell.
func buildSweep(grid *ve.Grid, afrTarget *ve.Table, iatC float64) []ecu.SweepPoint {
	rpmBins, mapBins := grid.RPMBins(), grid.MAPBins()
	points := make([]ecu.SweepPoint, 0, len(rpmBins)*len(mapBins))
	for i, rpm := range rpmBins {
		for j, mapKPa := range mapBins {
			points = append(points, ecu.SweepPoint{
				RPM:       rpm,
				MAPKPa:    mapKPa,
				IATC:      iatC,
				AFRTarget: afrTarget.At(i, j),
			})
		}
	}
	return points
}

func init() {
	tuneCmd.Flags().StringVar(&tuneBaseFront, "base-front", "", "Path to front-cylinder base VE CSV")
	tuneCmd.Flags().StringVar(&tuneBaseRear, "base-rear", "", "Path to rear-cylinder base VE CSV (omit for single-cylinder)")
	tuneCmd.Flags().StringVar(&tuneAFRTarget, "afr-target", "", "Path to commanded AFR target CSV")
	tuneCmd.Flags().StringVar(&tuneActualFront, "actual-front", "", "Path to the engine's true front VE CSV (scenario=custom only)")
	tuneCmd.Flags().StringVar(&tuneActualRear, "actual-rear", "", "Path to the engine's true rear VE CSV (scenario=custom only)")
	tuneCmd.Flags().StringVar(&tuneScenario, "scenario", "perfect", "Mismatch scenario: perfect, lean, rich, custom")
	tuneCmd.Flags().IntVar(&tuneMaxIter, "max-iter", 10, "Maximum closed-loop iterations")
	tuneCmd.Flags().Float64Var(&tuneThreshold, "threshold", 0.3, "Convergence threshold: max absolute AFR error must fall below this, with over 90% of cells converged")
	tuneCmd.Flags().Int64Var(&tuneSeed, "seed", 0, "Deterministic RNG seed for the virtual ECU")
	tuneCmd.Flags().Float64Var(&tuneDisplacement, "displacement-cc", 650, "Per-cylinder swept volume, cubic centimeters")
	tuneCmd.Flags().Float64Var(&tuneIATC, "iat-c", 25, "Intake air temperature used for every simulated sweep point, Celsius")
	_ = tuneCmd.MarkFlagRequired("base-front")
	_ = tuneCmd.MarkFlagRequired("afr-target")

	rootCmd.AddCommand(tuneCmd)
}
