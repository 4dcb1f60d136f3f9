package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rob9206/dynoai/ve"
	"github.com/rob9206/dynoai/ve/store"
)

var (
	applyBasePath   string
	applyFactorPath string
	applyOutputPath string
	applyPriorMeta  string
	applyMaxAdjust  float64
	applyDryRun     bool
	applyRunID      string
	applyCylinder   string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a correction factor artifact to a base VE table",
	RunE: func(cmd *cobra.Command, args []string) error {
		grid, base, err := loadBaseVE(applyBasePath, ve.UnitVE)
		if err != nil {
			return fmt.Errorf("loading base: %w", err)
		}

		var artifact ve.CorrectionArtifact
		if err := loadJSON(applyFactorPath, &artifact); err != nil {
			return fmt.Errorf("loading factor artifact: %w", err)
		}
		if pin := mathVersionPin(); pin != "" && artifact.MathVersion != pin {
			return fmt.Errorf("%w: artifact math_version %q does not match pinned %q", ve.ErrInvalidInput, artifact.MathVersion, pin)
		}

		maxAdjust := applyMaxAdjust
		if maxAdjust <= 0 {
			maxAdjust = maxClampPctCeiling()
		}

		var prior *ve.ApplyMetadata
		if applyPriorMeta != "" {
			prior = &ve.ApplyMetadata{}
			if err := loadJSON(applyPriorMeta, prior); err != nil {
				return fmt.Errorf("loading prior metadata: %w", err)
			}
		}

		updated, meta, err := ve.Apply(grid, base, &artifact, ve.ApplyOptions{
			MaxAdjustPct: maxAdjust,
			DryRun:       applyDryRun,
			Prior:        prior,
		})
		if err != nil {
			return err
		}

		logrus.Infof("dynoai apply: updated_sha=%.12s clamp_pct_used=%.2f", meta.UpdatedVESHA256, meta.ClampPctUsed)

		if applyDryRun {
			return nil
		}
		if err := writeVECSV(applyOutputPath, grid, updated, false); err != nil {
			return err
		}
		if err := writeJSONFile(applyOutputPath+".metadata.json", meta); err != nil {
			return err
		}

		if applyRunID == "" {
			return nil
		}
		st, err := store.Open(resolveRunsDir())
		if err != nil {
			return err
		}
		cyl, err := cylinderOf(applyCylinder)
		if err != nil {
			return err
		}
		if _, err := st.PutUpdatedVE(applyRunID, cyl, grid, updated); err != nil {
			return err
		}
		_, err = st.PutApplyMetadata(applyRunID, meta)
		return err
	},
}

// cylinderOf parses the --cylinder flag value into a ve.Cylinder.
func cylinderOf(name string) (ve.Cylinder, error) {
	switch name {
	case "front":
		return ve.Front, nil
	case "rear":
		return ve.Rear, nil
	default:
		return ve.Front, fmt.Errorf("%w: unknown cylinder %q (want front or rear)", ve.ErrInvalidInput, name)
	}
}

func init() {
	applyCmd.Flags().StringVar(&applyBasePath, "base", "", "Path to base VE CSV")
	applyCmd.Flags().StringVar(&applyFactorPath, "factor", "", "Path to correction factor artifact JSON")
	applyCmd.Flags().StringVar(&applyOutputPath, "output", "", "Path to write the updated VE CSV")
	applyCmd.Flags().StringVar(&applyPriorMeta, "prior-metadata", "", "Path to the previous apply's metadata JSON, for cumulative-cap tracking across a chain")
	applyCmd.Flags().Float64Var(&applyMaxAdjust, "max-adjust-pct", 7, "Hard apply-time cap on per-cell correction magnitude, percent")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Compute but do not write the updated table")
	applyCmd.Flags().StringVar(&applyRunID, "run-id", "", "Run ID to additionally persist the updated VE table and apply metadata under, per the run directory layout")
	applyCmd.Flags().StringVar(&applyCylinder, "cylinder", "front", "Cylinder this apply targets: front or rear")
	_ = applyCmd.MarkFlagRequired("base")
	_ = applyCmd.MarkFlagRequired("factor")
	_ = applyCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(applyCmd)
}
