package cmd

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/emrgen/catalog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "dataset commands",
}

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "harvest source commands",
}

func init() {
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(sourceCmd)

	datasetCmd.AddCommand(createDatasetCmd())
	datasetCmd.AddCommand(listDatasetCmd())
	datasetCmd.AddCommand(datasetReportsCmd())

	sourceCmd.AddCommand(createSourceCmd())
	sourceCmd.AddCommand(putSeedsCmd())
}

func createDatasetCmd() *cobra.Command {
	var name string

	command := &cobra.Command{
		Use:   "create",
		Short: "create a dataset",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"name"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			dataset, err := client().CreateDataset(ctx, name)
			if err != nil {
				logrus.Errorf("failed to create dataset: %v", err)
				return
			}
			logrus.Infof("created dataset %s (%d)", dataset.Name, dataset.ID)
		},
	}

	command.Flags().StringVarP(&name, "name", "n", "", "dataset name")

	return command
}

func listDatasetCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "list",
		Short: "list datasets",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			datasets, err := client().ListDatasets(ctx)
			if err != nil {
				logrus.Errorf("failed to list datasets: %v", err)
				return
			}

			table := make([][]string, 0, len(datasets))
			for _, dataset := range datasets {
				table = append(table, []string{strconv.FormatUint(uint64(dataset.ID), 10), dataset.Name, strconv.FormatBool(dataset.IsActive)})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "ACTIVE"}, table)
		},
	}

	return command
}

func datasetReportsCmd() *cobra.Command {
	var dataset string

	command := &cobra.Command{
		Use:   "reports",
		Short: "show the latest promotion, harvest, push and cleanup reports of a dataset",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"dataset"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			reports, err := client().Reports(ctx, dataset)
			if err != nil {
				logrus.Errorf("failed to get reports: %v", err)
				return
			}
			printJSON(cmd.OutOrStdout(), reports)
		},
	}

	command.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset name")

	return command
}

func createSourceCmd() *cobra.Command {
	var source catalog.Source

	command := &cobra.Command{
		Use:   "create",
		Short: "register a harvest source",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"name", "module", "endpoint"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := client().CreateSource(ctx, source); err != nil {
				logrus.Errorf("failed to create source: %v", err)
				return
			}
			logrus.Infof("created %s source %s", source.Module, source.Name)
		},
	}

	command.Flags().StringVarP(&source.Name, "name", "n", "", "source name")
	command.Flags().StringVarP(&source.Module, "module", "m", "", "seed module, csv or static")
	command.Flags().StringVarP(&source.Endpoint, "endpoint", "e", "", "seed endpoint")
	command.Flags().StringVar(&source.SetSpec, "set", "", "set specification passed to the module")

	return command
}

func putSeedsCmd() *cobra.Command {
	var source string
	var file string

	command := &cobra.Command{
		Use:   "seeds",
		Short: "replace the seeds of a static source with the JSON array in a file",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"source", "file"}) {
				return
			}

			data, err := os.ReadFile(file)
			if err != nil {
				logrus.Errorf("failed to read seeds: %v", err)
				return
			}
			var seeds []catalog.Seed
			if err := json.Unmarshal(data, &seeds); err != nil {
				logrus.Errorf("failed to decode seeds: %v", err)
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := client().PutSeeds(ctx, source, seeds); err != nil {
				logrus.Errorf("failed to put seeds: %v", err)
				return
			}
			logrus.Infof("stored %d seeds for %s", len(seeds), source)
		},
	}

	command.Flags().StringVarP(&source, "source", "s", "", "source name")
	command.Flags().StringVarP(&file, "file", "f", "", "path to a JSON array of seeds")

	return command
}
