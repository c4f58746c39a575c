package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/rxvault/internal/store"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		minStock     int
		expiryMonths int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize inventory health",
		Long: `Summarize inventory health using the stored thresholds.

--min-stock and --expiry-months count against a one-off threshold
without changing the stored settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			st, err := s.service.Stats(ctx)
			if err != nil {
				return s.out.Fail("stats failed", err)
			}
			if cmd.Flags().Changed("min-stock") {
				st.Thresholds.MinimumStock = minStock
				if st.LowStock, err = s.service.LowStockCount(ctx, &minStock); err != nil {
					return s.out.Fail("stats failed", err)
				}
			}
			if cmd.Flags().Changed("expiry-months") {
				st.Thresholds.ExpiryMonths = expiryMonths
				if st.ExpiringSoon, err = s.service.ExpiringSoonCount(ctx, &expiryMonths); err != nil {
					return s.out.Fail("stats failed", err)
				}
			}

			return s.out.Success(st, func(w io.Writer) {
				fmt.Fprintf(w, "As of %s\n", st.Today)
				fmt.Fprintf(w, "  Medicines:     %d\n", st.Medicines)
				fmt.Fprintf(w, "  Low stock:     %d (below %d)\n", st.LowStock, st.Thresholds.MinimumStock)
				fmt.Fprintf(w, "  Expiring soon: %d (within %d months)\n", st.ExpiringSoon, st.Thresholds.ExpiryMonths)
				fmt.Fprintf(w, "  Expired:       %d\n", st.Expired)
			})
		},
	}
	cmd.Flags().IntVar(&minStock, "min-stock", 0, "count low stock against this threshold")
	cmd.Flags().IntVar(&expiryMonths, "expiry-months", 0, "count expiring medicines against this window")
	return cmd
}

// settingKeys maps the CLI names onto stored setting keys.
var settingKeys = map[string]string{
	"min-stock":     store.SettingMinimumStock,
	"expiry-months": store.SettingExpiryMonths,
}

// NewSettingsCommand creates the settings command group.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change inventory thresholds",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the thresholds in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			th, err := s.service.Thresholds(cmd.Context())
			if err != nil {
				return s.out.Fail("read settings failed", err)
			}
			return s.out.Success(th, func(w io.Writer) {
				fmt.Fprintf(w, "%s = %d\n", store.SettingMinimumStock, th.MinimumStock)
				fmt.Fprintf(w, "%s = %d\n", store.SettingExpiryMonths, th.ExpiryMonths)
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a threshold",
		Example: `  rxvault settings set min-stock 20
  rxvault settings set expiry-months 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, ok := settingKeys[args[0]]
			if !ok {
				key = args[0]
			}
			value, err := strconv.Atoi(args[1])
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid value %q: must be an integer", args[1]))
			}

			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.SetThreshold(cmd.Context(), key, value); err != nil {
				return s.out.Fail("set setting failed", err)
			}
			return s.out.Success(map[string]any{"key": key, "value": value}, func(w io.Writer) {
				fmt.Fprintf(w, "%s = %d\n", key, value)
			})
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}
