package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/windturbine/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show windturbine version information",
	Long:  `Display version, build time, commit hash, and platform information for the windturbine binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		info := version.Get()

		if jsonOutput {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error formatting JSON: %v\n", err)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			fmt.Fprintf(cmd.OutOrStdout(), "Platform: %s\n", info.Platform)
			fmt.Fprintf(cmd.OutOrStdout(), "Go: %s\n", info.GoVersion)
		}
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
}
