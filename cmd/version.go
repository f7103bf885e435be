package cmd

import (
	"encoding/json"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags.
var (
	Version = ""
	Commit  = ""
)

func getVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := struct {
				Version string `json:"version"`
				Commit  string `json:"commit"`
				Go      string `json:"go"`
			}{
				Version: Version,
				Commit:  Commit,
				Go:      runtime.Version(),
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}
