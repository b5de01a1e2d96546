package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/store"
)

type importer interface {
	Import(ctx context.Context, entries []model.MemoryEntry) (int, error)
}

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import stage results from YAML or JSON",
		Long:  "Import stage results (file or stdin). Expects the format produced by export. Only newer versions replace stored entries.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var data []byte
	var err error
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	// YAML is a superset of JSON, so one decoder reads both export forms.
	var exported []store.ExportEntry
	if err := yaml.Unmarshal(data, &exported); err != nil {
		exitErr("parse", err)
	}
	entries, err := store.FromExport(exported)
	if err != nil {
		exitErr("parse", err)
	}

	ctx := cmd.Context()
	a := mustApp(ctx)
	defer a.Close()

	imp, ok := a.store.(importer)
	if !ok {
		exitErr("import", fmt.Errorf("memory backend %q does not support import", a.cfg.Memory.Backend))
	}
	imported, err := imp.Import(ctx, entries)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"imported":%d}`+"\n", imported)
}
