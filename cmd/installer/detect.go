package installer

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/monika-after-story/installer/internal/gamedir"
)

var detectCmd = &cobra.Command{
	Use:   "detect [dir...]",
	Short: "Locate the DDLC installation directory",
	Long: "Checks the working directory, common install locations and any " +
		"extra directories given as arguments for a DDLC installation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, ok := gamedir.Detect(args...)
		if !ok {
			return fmt.Errorf("no DDLC directory found; pass the game directory with --target when installing")
		}
		fmt.Println(dir)
		return nil
	},
}
