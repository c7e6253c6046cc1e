package cmd

import (
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "dataset version commands",
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "search index commands",
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(indexCmd)

	versionCmd.AddCommand(listVersionCmd())
	versionCmd.AddCommand(createVersionCmd())
	versionCmd.AddCommand(promoteVersionCmd())
	versionCmd.AddCommand(deleteVersionCmd())
	versionCmd.AddCommand(exportVersionCmd())
	versionCmd.AddCommand(importVersionCmd())

	indexCmd.AddCommand(rebuildIndexCmd())
	indexCmd.AddCommand(syncIndexCmd())
}

func listVersionCmd() *cobra.Command {
	var dataset string

	command := &cobra.Command{
		Use:   "list",
		Short: "list the versions of a dataset",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"dataset"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			versions, err := client().ListVersions(ctx, dataset)
			if err != nil {
				logrus.Errorf("failed to list versions: %v", err)
				return
			}

			table := make([][]string, 0, len(versions))
			for _, v := range versions {
				created := v.CreatedAt
				table = append(table, []string{
					strconv.FormatUint(uint64(v.ID), 10),
					v.Version,
					strconv.FormatBool(v.IsCurrent),
					formatTime(&created),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "VERSION", "CURRENT", "CREATED"}, table)
		},
	}

	command.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset name")

	return command
}

func createVersionCmd() *cobra.Command {
	var dataset string

	command := &cobra.Command{
		Use:   "create",
		Short: "create a new version by copying the latest one",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"dataset"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			v, err := client().CreateVersion(ctx, dataset)
			if err != nil {
				logrus.Errorf("failed to create version: %v", err)
				return
			}
			logrus.Infof("created version %s (%d) of %s", v.Version, v.ID, dataset)
		},
	}

	command.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset name")

	return command
}

func promoteVersionCmd() *cobra.Command {
	var id uint

	command := &cobra.Command{
		Use:   "promote",
		Short: "make a version current",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"id"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			report, err := client().PromoteVersion(ctx, id)
			if err != nil {
				logrus.Errorf("failed to promote version: %v", err)
				return
			}
			printJSON(cmd.OutOrStdout(), report)
		},
	}

	command.Flags().UintVarP(&id, "id", "i", 0, "version id")

	return command
}

func deleteVersionCmd() *cobra.Command {
	var id uint

	command := &cobra.Command{
		Use:   "delete",
		Short: "delete a version that is not current, with its search indices",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"id"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := client().DeleteVersion(ctx, id); err != nil {
				logrus.Errorf("failed to delete version: %v", err)
				return
			}
			logrus.Infof("deleted version %d", id)
		},
	}

	command.Flags().UintVarP(&id, "id", "i", 0, "version id")

	return command
}

func exportVersionCmd() *cobra.Command {
	var id uint

	command := &cobra.Command{
		Use:   "export",
		Short: "dump a version to the object store",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"id"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			key, err := client().ExportVersion(ctx, id)
			if err != nil {
				logrus.Errorf("failed to export version: %v", err)
				return
			}
			logrus.Infof("exported version %d to %s", id, key)
		},
	}

	command.Flags().UintVarP(&id, "id", "i", 0, "version id")

	return command
}

func importVersionCmd() *cobra.Command {
	var dataset string
	var key string

	command := &cobra.Command{
		Use:   "import",
		Short: "load a dumped version as a new version of a dataset",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"dataset", "key"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			v, err := client().ImportVersion(ctx, dataset, key)
			if err != nil {
				logrus.Errorf("failed to import version: %v", err)
				return
			}
			logrus.Infof("imported %s as version %s (%d)", key, v.Version, v.ID)
		},
	}

	command.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset name")
	command.Flags().StringVarP(&key, "key", "k", "", "object key of the dump")

	return command
}

func rebuildIndexCmd() *cobra.Command {
	var id uint
	var language string
	var recreate bool
	var promote bool

	command := &cobra.Command{
		Use:   "rebuild",
		Short: "push every document of a version into a search index",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"id", "language"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			result, err := client().RebuildIndex(ctx, id, language, recreate, promote)
			if err != nil {
				logrus.Errorf("failed to rebuild index: %v", err)
				return
			}
			printJSON(cmd.OutOrStdout(), result)
		},
	}

	command.Flags().UintVarP(&id, "id", "i", 0, "version id")
	command.Flags().StringVarP(&language, "language", "l", "", "index language")
	command.Flags().BoolVar(&recreate, "recreate", false, "drop and create the remote index first")
	command.Flags().BoolVar(&promote, "promote", false, "swap the latest alias to the index")

	return command
}

func syncIndexCmd() *cobra.Command {
	var dataset string

	command := &cobra.Command{
		Use:   "sync",
		Short: "push the changes of the current version into its search indices",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"dataset"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			result, err := client().SyncIndices(ctx, dataset)
			if err != nil {
				logrus.Errorf("failed to sync indices: %v", err)
				return
			}
			printJSON(cmd.OutOrStdout(), result)
		},
	}

	command.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset name")

	return command
}
