package cmd

import (
	"github.com/emrgen/catalog/internal/config"
	"github.com/emrgen/catalog/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var noSchedule bool

	command := &cobra.Command{
		Use:   "serve",
		Short: "run the catalog worker",
		Long:  `run the admin api, the grpc health service and the scheduled harvest, sync and cleanup tasks`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.LoadConfig()

			srv := server.NewServer(cfg.Server.GRPCPort, cfg.Server.HTTPPort, !noSchedule)
			if err := srv.Start(cfg); err != nil {
				logrus.Fatalf("error starting server: %v", err)
			}
		},
	}

	command.Flags().BoolVar(&noSchedule, "no-schedule", false, "do not run the scheduled tasks")

	return command
}
