package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/emrgen/catalog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var extensionCmd = &cobra.Command{
	Use:   "extension",
	Short: "extension commands",
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "scheduled task commands",
}

func init() {
	rootCmd.AddCommand(extensionCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(healthCmd())

	extensionCmd.AddCommand(saveExtensionCmd())
	extensionCmd.AddCommand(deleteExtensionCmd())

	taskCmd.AddCommand(runTaskCmd())
}

func saveExtensionCmd() *cobra.Command {
	var dataset string
	var extension catalog.Extension
	var properties string

	command := &cobra.Command{
		Use:   "save",
		Short: "create or update an extension of a dataset",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"dataset", "properties"}) {
				return
			}

			if err := json.Unmarshal([]byte(properties), &extension.Properties); err != nil {
				logrus.Errorf("properties must be a JSON object: %v", err)
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			id, err := client().SaveExtension(ctx, dataset, extension)
			if err != nil {
				logrus.Errorf("failed to save extension: %v", err)
				return
			}
			logrus.Infof("saved extension %s", id)
		},
	}

	command.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset name")
	command.Flags().StringVarP(&extension.ID, "id", "i", "", "extension id, generated when empty")
	command.Flags().StringVarP(&properties, "properties", "p", "", "extension properties as a JSON object")
	command.Flags().BoolVar(&extension.IsAddition, "addition", false, "the extension adds a document instead of overriding one")
	command.Flags().BoolVar(&extension.IsParent, "parent", false, "the extension is a parent document")

	return command
}

func deleteExtensionCmd() *cobra.Command {
	var id string

	command := &cobra.Command{
		Use:   "delete",
		Short: "delete an extension",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"id"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := client().DeleteExtension(ctx, id); err != nil {
				logrus.Errorf("failed to delete extension: %v", err)
				return
			}
			logrus.Infof("deleted extension %s", id)
		},
	}

	command.Flags().StringVarP(&id, "id", "i", "", "extension id")

	return command
}

func runTaskCmd() *cobra.Command {
	var name string

	command := &cobra.Command{
		Use:   "run",
		Short: "run a scheduled task now",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"name"}) {
				return
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			ran, err := client().RunTask(ctx, name)
			if err != nil {
				logrus.Errorf("failed to run task: %v", err)
				return
			}
			if !ran {
				logrus.Warnf("task %s is already running", name)
				return
			}
			logrus.Infof("task %s finished", name)
		},
	}

	command.Flags().StringVarP(&name, "name", "n", "", "task name: harvest, delta_sync or version_cleanup")

	return command
}

func healthCmd() *cobra.Command {
	var grpcAddr string

	command := &cobra.Command{
		Use:   "health",
		Short: "check the grpc health service of a worker",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			serving, err := catalog.CheckHealth(ctx, grpcAddr)
			if err != nil {
				logrus.Fatalf("health check failed: %v", err)
			}
			if !serving {
				logrus.Fatalf("%s is not serving", grpcAddr)
			}
			logrus.Infof("%s is serving", grpcAddr)
		},
	}

	command.Flags().StringVar(&grpcAddr, "grpc", "localhost:4020", "grpc address of the worker")

	return command
}
