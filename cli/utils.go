package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func logJSONCmd(cmd cobra.Command, iface any) {
	data, err := json.MarshalIndent(iface, "", "  ")
	if err != nil {
		logErrorCmd(cmd, err)

		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\n", string(data))
}

func logErrorCmd(cmd cobra.Command, err error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "\nerror: %s\n\n", err)
}

func logUsageCmd(cmd cobra.Command, u string) {
	fmt.Fprintf(cmd.OutOrStdout(), "\nusage: %s\n\n", u)
}

func logOKCmd(cmd cobra.Command) {
	fmt.Fprintf(cmd.OutOrStdout(), "\nok\n\n")
}
