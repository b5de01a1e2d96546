package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "end",
		Short: "End a session and discard its stage results",
		Run:   runEnd,
	}

	RootCmd.AddCommand(cmd)
}

func runEnd(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	a := mustApp(ctx)
	defer a.Close()

	if err := a.orchestrator(sessionID).End(ctx); err != nil {
		exitErr("end", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"session":%q,"state":"complete"}`+"\n", sessionID)
}
