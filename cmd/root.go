package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	var root = &cobra.Command{
		Use:          "poodle",
		Short:        "Watch course pages for new uploads",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(serveCMD(), migrateCMD(), fetchCMD(), tokenCMD(), tailCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
