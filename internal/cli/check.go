package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"localchat/internal/session"
)

func newCheckCmd(o *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether llama support is built in and the models directory is usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := session.SanityCheck(o.cfg.ModelsDir)
			out := cmd.OutOrStdout()
			if asJSON {
				if err := json.NewEncoder(out).Encode(r); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "llama built:  %v\n", r.LlamaBuilt)
				fmt.Fprintf(out, "models dir:   %s (found: %v)\n", r.ModelsDir, r.ModelsDirFound)
			}
			if r.Error != "" {
				return errors.New(r.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
