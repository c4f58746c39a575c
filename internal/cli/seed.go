package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalogue.yaml>",
		Short: "Import medicines, people and prescriptions from a YAML catalogue",
		Long: `Import a YAML catalogue into the local database.

Records whose id already exists are skipped, so a catalogue can be
imported more than once. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to open catalogue", err)
				}
				defer f.Close()
				r = f
			}

			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			s.out.VerboseLog("importing catalogue %s into %s", args[0], s.cfg.Database)
			res, err := s.service.ImportCatalogue(cmd.Context(), r)
			if err != nil {
				return s.out.Fail("seed failed", err)
			}
			return s.out.Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %d records (%d already present)\n", res.Inserted, res.Skipped)
			})
		},
	}
}
