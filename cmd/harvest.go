package cmd

import (
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "harvest commands",
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	harvestCmd.AddCommand(addHarvestCmd())
	harvestCmd.AddCommand(listHarvestCmd())
	harvestCmd.AddCommand(runHarvestCmd())
	harvestCmd.AddCommand(resetHarvestCmd())
}

func addHarvestCmd() *cobra.Command {
	var dataset string
	var source string

	command := &cobra.Command{
		Use:   "add",
		Short: "harvest a source into a dataset",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"dataset", "source"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			harvest, err := client().AddHarvest(ctx, dataset, source)
			if err != nil {
				logrus.Errorf("failed to add harvest: %v", err)
				return
			}
			logrus.Infof("added harvest %d of %s into %s", harvest.ID, source, dataset)
		},
	}

	command.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset name")
	command.Flags().StringVarP(&source, "source", "s", "", "source name")

	return command
}

func listHarvestCmd() *cobra.Command {
	var dataset string

	command := &cobra.Command{
		Use:   "list",
		Short: "list the harvests of a dataset",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"dataset"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			harvests, err := client().ListHarvests(ctx, dataset)
			if err != nil {
				logrus.Errorf("failed to list harvests: %v", err)
				return
			}

			table := make([][]string, 0, len(harvests))
			for _, harvest := range harvests {
				latest := harvest.LatestUpdateAt
				table = append(table, []string{
					strconv.FormatUint(uint64(harvest.ID), 10),
					strconv.FormatUint(uint64(harvest.SourceID), 10),
					harvest.Stage,
					formatTime(&latest),
					formatTime(harvest.HarvestedAt),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "SOURCE", "STAGE", "LATEST UPDATE", "HARVESTED"}, table)
		},
	}

	command.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset name")

	return command
}

func runHarvestCmd() *cobra.Command {
	var dataset string
	var id uint

	command := &cobra.Command{
		Use:   "run",
		Short: "run one harvest, or every harvest of a dataset",
		Run: func(cmd *cobra.Command, args []string) {
			if !cmd.Flag("dataset").Changed && !cmd.Flag("id").Changed {
				checkMissingFlags(cmd, []string{"dataset"})
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			var err error
			var out any
			if cmd.Flag("id").Changed {
				out, err = client().RunHarvest(ctx, id)
			} else {
				out, err = client().RunHarvests(ctx, dataset)
			}
			if err != nil {
				logrus.Errorf("failed to run harvest: %v", err)
				return
			}
			printJSON(cmd.OutOrStdout(), out)
		},
	}

	command.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset name")
	command.Flags().UintVarP(&id, "id", "i", 0, "harvest id")

	return command
}

func resetHarvestCmd() *cobra.Command {
	var id uint

	command := &cobra.Command{
		Use:   "reset",
		Short: "force a full re-harvest",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"id"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := client().ResetHarvest(ctx, id); err != nil {
				logrus.Errorf("failed to reset harvest: %v", err)
				return
			}
			logrus.Infof("reset harvest %d", id)
		},
	}

	command.Flags().UintVarP(&id, "id", "i", 0, "harvest id")

	return command
}
