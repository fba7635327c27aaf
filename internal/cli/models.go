package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"localchat/internal/registry"
	"localchat/internal/store"
)

func newModelsCmd(o *options) *cobra.Command {
	var (
		asJSON bool
		noScan bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Scan the models directory and list known models",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := store.Open(o.cfg.DBPath, o.log)
			if err != nil {
				return err
			}
			st := store.New(db, o.cfg.DefaultSystemPrompt)
			defer st.Close()

			if !noScan {
				if _, err := registry.Sync(ctx, o.cfg.ModelsDir, st); err != nil {
					return fmt.Errorf("scan %s: %w", o.cfg.ModelsDir, err)
				}
			}
			models, err := st.ListModels(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(models)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tQUANT\tFAMILY\tPATH")
			for _, m := range models {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Quant, m.Family, m.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().BoolVar(&noScan, "no-scan", false, "List stored models without rescanning the directory")
	return cmd
}
