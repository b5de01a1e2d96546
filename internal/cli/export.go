package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/agriplan/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stage results as YAML or JSON",
		Long:  "Export stage results. Filter by session with --session; --all exports every session.",
		Run:   runExport,
	}

	cmd.Flags().Bool("all", false, "Export every session")
	cmd.Flags().Bool("json", false, "Write JSON instead of YAML")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx := cmd.Context()
	a := mustApp(ctx)
	defer a.Close()

	session := sessionID
	if all {
		session = ""
	}
	entries, err := a.store.List(ctx, store.ListParams{Session: session})
	if err != nil {
		exitErr("export", err)
	}
	out := store.ToExport(entries)

	if asJSON {
		b, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(b))
		return
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		exitErr("export", err)
	}
	fmt.Print(string(b))
}
