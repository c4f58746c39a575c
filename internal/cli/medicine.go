package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/pharmacy"
	"github.com/roach88/rxvault/internal/policy"
)

type medicineFlags struct {
	id         string
	name       string
	dosage     string
	stock      int64
	unit       string
	expiry     string
	priceCents int64
}

func (f *medicineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "medicine name")
	cmd.Flags().StringVar(&f.dosage, "dosage", "", "dosage, e.g. 500mg")
	cmd.Flags().Int64Var(&f.stock, "stock", 0, "units on the shelf")
	cmd.Flags().StringVar(&f.unit, "unit", "", "stock unit, e.g. tablets")
	cmd.Flags().StringVar(&f.expiry, "expiry", "", "expiry date (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&f.priceCents, "price-cents", 0, "unit price in cents")
}

// apply copies the flags the user set onto m.
func (f *medicineFlags) apply(cmd *cobra.Command, m *model.Medicine) error {
	changed := cmd.Flags().Changed
	if changed("name") {
		m.Name = f.name
	}
	if changed("dosage") {
		m.Dosage = f.dosage
	}
	if changed("stock") {
		m.Stock = f.stock
	}
	if changed("unit") {
		m.Unit = f.unit
	}
	if changed("price-cents") {
		m.PriceCents = f.priceCents
	}
	if changed("expiry") {
		d, err := model.ParseDate(f.expiry)
		if err != nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid --expiry: %v", err))
		}
		m.ExpiryDate = d
	}
	return nil
}

// NewMedicineCommand creates the medicine command group.
func NewMedicineCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "medicine",
		Short: "Manage the medicine inventory",
	}
	cmd.AddCommand(newMedicineAddCommand(rootOpts))
	cmd.AddCommand(newMedicineListCommand(rootOpts))
	cmd.AddCommand(newMedicineUpdateCommand(rootOpts))
	cmd.AddCommand(newMedicineDeleteCommand(rootOpts))
	cmd.AddCommand(newMedicineStockCommand(rootOpts))
	return cmd
}

func newMedicineAddCommand(rootOpts *RootOptions) *cobra.Command {
	f := &medicineFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a medicine",
		Example: `  rxvault medicine add --name Amoxicillin --dosage 500mg --stock 120 --unit capsules --expiry 2026-01-31
  rxvault medicine add --id med-42 --name Insulin --stock 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := model.Medicine{ID: f.id}
			if err := f.apply(cmd, &m); err != nil {
				return err
			}
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.service.AddMedicine(cmd.Context(), m)
			if err != nil {
				return s.out.Fail("add medicine failed", err)
			}
			return s.out.Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "Added medicine %s (%s), stock %d\n", out.ID, out.Name, out.Stock)
			})
		},
	}
	cmd.Flags().StringVar(&f.id, "id", "", "medicine id (generated when empty)")
	f.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newMedicineListCommand(rootOpts *RootOptions) *cobra.Command {
	var filter pharmacy.MedicineFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List medicines with their stock and expiry status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			meds, err := s.service.ListMedicines(cmd.Context(), filter)
			if err != nil {
				return s.out.Fail("list medicines failed", err)
			}
			return s.out.Success(meds, func(w io.Writer) {
				rows := make([][]string, 0, len(meds))
				for _, m := range meds {
					rows = append(rows, []string{
						m.ID, m.Name, m.Dosage, strconv.FormatInt(m.Stock, 10), m.Unit,
						m.ExpiryDate.String(), statusLabel(m.Status),
					})
				}
				s.out.Table(w, []string{"ID", "NAME", "DOSAGE", "STOCK", "UNIT", "EXPIRY", "STATUS"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&filter.NameContains, "name", "", "only names containing this text")
	cmd.Flags().BoolVar(&filter.LowStockOnly, "low-stock", false, "only medicines below the minimum stock")
	cmd.Flags().BoolVar(&filter.ExpiringSoonOnly, "expiring", false, "only medicines expiring soon")
	cmd.Flags().BoolVar(&filter.ExpiredOnly, "expired", false, "only expired medicines")
	return cmd
}

func statusLabel(st policy.Status) string {
	var parts []string
	if st.LowStock {
		parts = append(parts, "low")
	}
	if st.Expired {
		parts = append(parts, "expired")
	}
	if st.ExpiringSoon {
		parts = append(parts, "expiring")
	}
	if len(parts) == 0 {
		return "ok"
	}
	return strings.Join(parts, ",")
}

func newMedicineUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	f := &medicineFlags{}
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a medicine; only the flags given change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := s.store.GetMedicine(cmd.Context(), args[0])
			if err != nil {
				return s.out.Fail("update medicine failed", err)
			}
			if err := f.apply(cmd, &m); err != nil {
				return err
			}
			out, err := s.service.UpdateMedicine(cmd.Context(), m)
			if err != nil {
				return s.out.Fail("update medicine failed", err)
			}
			return s.out.Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "Updated medicine %s (%s)\n", out.ID, out.Name)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newMedicineDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a medicine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.service.DeleteMedicine(cmd.Context(), args[0]); err != nil {
				return s.out.Fail("delete medicine failed", err)
			}
			return s.out.Success(map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted medicine %s\n", args[0])
			})
		},
	}
}

func newMedicineStockCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "stock <name> <quantity>",
		Short:   "Set the stock of a medicine by name",
		Example: `  rxvault medicine stock Amoxicillin 200`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid quantity %q", args[1]))
			}
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.service.UpdateStock(cmd.Context(), args[0], qty)
			if err != nil {
				return s.out.Fail("update stock failed", err)
			}
			return s.out.Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "%s stock is now %d\n", out.Name, out.Stock)
			})
		},
	}
}
