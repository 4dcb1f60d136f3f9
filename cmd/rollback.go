package cmd

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rob9206/dynoai/ve"
)

var (
	rollbackCurrentPath  string
	rollbackMetadataPath string
	rollbackFactorPath   string
	rollbackOutputPath   string
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Reverse a prior apply using its factor artifact and metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		grid, current, err := loadBaseVE(rollbackCurrentPath, ve.UnitVE)
		if err != nil {
			return fmt.Errorf("loading current: %w", err)
		}

		var meta ve.ApplyMetadata
		if err := loadJSON(rollbackMetadataPath, &meta); err != nil {
			return fmt.Errorf("loading apply metadata: %w", err)
		}
		var artifact ve.CorrectionArtifact
		if err := loadJSON(rollbackFactorPath, &artifact); err != nil {
			return fmt.Errorf("loading factor artifact: %w", err)
		}

		restored, record, err := ve.Rollback(grid, current, &meta, &artifact, time.Now())
		if err != nil {
			return err
		}

		logrus.Infof("dynoai rollback: restored_sha=%.12s", record.RestoredVESHA256)

		if err := writeVECSV(rollbackOutputPath, grid, restored, false); err != nil {
			return err
		}
		return writeJSONFile(rollbackOutputPath+".record.json", record)
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackCurrentPath, "current", "", "Path to current VE CSV")
	rollbackCmd.Flags().StringVar(&rollbackMetadataPath, "metadata", "", "Path to apply metadata JSON")
	rollbackCmd.Flags().StringVar(&rollbackFactorPath, "factor", "", "Path to the factor artifact JSON the apply used")
	rollbackCmd.Flags().StringVar(&rollbackOutputPath, "output", "", "Path to write the restored VE CSV")
	_ = rollbackCmd.MarkFlagRequired("current")
	_ = rollbackCmd.MarkFlagRequired("metadata")
	_ = rollbackCmd.MarkFlagRequired("factor")
	_ = rollbackCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(rollbackCmd)
}
