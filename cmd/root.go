package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/emrgen/catalog"
	"github.com/spf13/cobra"
)

const defaultAddr = "http://localhost:4021"

var apiAddr string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "catalog",
	Short: "dataset version and search index manager",
	Example: `catalog serve
catalog dataset create -n edusources
catalog source create -n alpha -m csv -e https://example.org/export.csv
catalog harvest add -d edusources -s alpha
catalog harvest run -d edusources
catalog version promote -i 2
catalog index sync -d edusources`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	addr := os.Getenv("CATALOG_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", addr, "admin api address of the catalog worker")

	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd())
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}

func client() *catalog.Client {
	return catalog.NewClient(apiAddr)
}

// checkMissingFlags prints the required flags that were not provided.
func checkMissingFlags(cmd *cobra.Command, flags []string) bool {
	var missing []string
	for _, required := range flags {
		if !cmd.Flag(required).Changed {
			missing = append(missing, "--"+required)
		}
	}

	if len(missing) > 0 {
		cmd.PrintErrln(fmt.Sprintf("missing: %s", strings.Join(missing, " ")))
		cmd.PrintErrln("")
		_ = cmd.Usage()
		return true
	}

	return false
}
