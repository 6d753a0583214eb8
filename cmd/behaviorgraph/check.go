package behaviorgraph

import (
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report runtime and dependency diagnostics",
	Long:  "Print the Go runtime version and the resolved versions of the numeric and storage dependencies.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		detector, _, err := newDetector(cmd, "")
		if err != nil {
			return fail(err)
		}
		return emit(detector.Check())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
