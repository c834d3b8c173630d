package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped per release.
const version = "1.0.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the atlas version",
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := json.MarshalIndent(struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		}{Name: "atlas", Version: version}, "", "  ")
		fmt.Println(string(out))
	},
}
