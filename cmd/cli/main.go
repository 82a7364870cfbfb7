package main

import (
	"log"

	"github.com/TUM-AIMED/hyfed/cli"
	"github.com/TUM-AIMED/hyfed/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	defServerURL       = "http://localhost:8000"
	defTLSVerification = false
)

func main() {
	var serverURL string

	rootCmd := &cobra.Command{
		Use:   "hyfed-cli",
		Short: "HyFed CLI",
		Long:  `HyFed CLI is a command line interface for administering federated projects on the coordinator.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				ServerURL:       serverURL,
				TLSVerification: defTLSVerification,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetSDK(s)
		},
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", defServerURL, "coordinator base URL")

	projectsCmd := cli.NewProjectsCmd()

	rootCmd.AddCommand(projectsCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
