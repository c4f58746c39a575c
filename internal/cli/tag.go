package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rxvault/internal/dispense"
)

// NewTagCommand creates the tag command group.
func NewTagCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Bind and read physical tags",
	}

	bind := &cobra.Command{
		Use:   "bind <tag-id> <prescription-id>",
		Short: "Bind a tag to an Active prescription (replaces any live binding)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			b, err := s.service.BindTag(cmd.Context(), args[0], args[1])
			if err != nil {
				return s.out.Fail("bind failed", err)
			}
			return s.out.Success(b, func(w io.Writer) {
				fmt.Fprintf(w, "Tag %s bound to %s: %s %s for %s\n", b.TagID, b.PrescriptionID, b.Medication, b.Dosage, b.PatientName)
			})
		},
	}

	read := &cobra.Command{
		Use:   "read <tag-id>",
		Short: "Show what a tag currently carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			snap, ok, err := s.service.ReadTag(cmd.Context(), args[0])
			if err != nil {
				return s.out.Fail("read failed", err)
			}
			if !ok {
				return s.out.Success(map[string]any{"tag_id": args[0], "empty": true}, func(w io.Writer) {
					fmt.Fprintf(w, "Tag %s is empty\n", args[0])
				})
			}
			return s.out.Success(snap, func(w io.Writer) {
				fmt.Fprintf(w, "Tag:          %s\n", snap.TagID)
				fmt.Fprintf(w, "Prescription: %s\n", snap.PrescriptionID)
				fmt.Fprintf(w, "Patient:      %s\n", snap.PatientName)
				fmt.Fprintf(w, "Medication:   %s %s\n", snap.Medication, snap.Dosage)
				fmt.Fprintf(w, "Frequency:    %s\n", snap.Frequency)
				fmt.Fprintf(w, "Duration:     %s\n", snap.Duration)
				if snap.Instructions != "" {
					fmt.Fprintf(w, "Instructions: %s\n", snap.Instructions)
				}
				fmt.Fprintf(w, "Bound at:     %s\n", snap.BoundAt.Format(time.RFC3339))
			})
		},
	}

	history := &cobra.Command{
		Use:   "history <tag-id>",
		Short: "List every binding a tag has had",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.service.TagHistory(cmd.Context(), args[0])
			if err != nil {
				return s.out.Fail("tag history failed", err)
			}
			return s.out.Success(list, func(w io.Writer) {
				rows := make([][]string, 0, len(list))
				for _, b := range list {
					state := "live"
					switch {
					case b.IsDispensed:
						state = "dispensed"
					case b.SupersededAt != nil:
						state = "superseded"
					}
					rows = append(rows, []string{b.ID, b.PrescriptionID, b.Medication, b.BoundAt.Format(time.RFC3339), state})
				}
				s.out.Table(w, []string{"BINDING", "PRESCRIPTION", "MEDICATION", "BOUND", "STATE"}, rows)
			})
		},
	}

	cmd.AddCommand(bind, read, history)
	return cmd
}

// NewDispenseCommand creates the dispense command.
func NewDispenseCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		pharmacist  string
		showHistory bool
	)
	cmd := &cobra.Command{
		Use:   "dispense [tag-id]",
		Short: "Dispense the medication a tag carries",
		Long: `Dispense the medication bound to a tag.

The tag's live binding is marked dispensed and the medicine's stock is
decremented in one transaction. A tag can dispense at most once per
binding. With --history, lists completed dispenses instead.`,
		Example: `  rxvault dispense TAG-001 --pharmacist emp-1
  rxvault dispense --history --pharmacist emp-1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !showHistory && (len(args) != 1 || pharmacist == "") {
				return NewExitError(ExitCommandError, "dispense needs a tag id and --pharmacist")
			}
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if showHistory {
				f := dispense.HistoryFilter{PharmacistID: pharmacist}
				if len(args) == 1 {
					f.TagID = args[0]
				}
				entries, err := s.service.DispenseHistory(cmd.Context(), f)
				if err != nil {
					return s.out.Fail("dispense history failed", err)
				}
				return s.out.Success(entries, func(w io.Writer) {
					rows := make([][]string, 0, len(entries))
					for _, e := range entries {
						at := ""
						if e.DispensedAt != nil {
							at = e.DispensedAt.Format(time.RFC3339)
						}
						rows = append(rows, []string{e.TagID, e.Medication, strconv.FormatInt(e.Quantity, 10), e.PatientName, e.DispensedBy, at})
					}
					s.out.Table(w, []string{"TAG", "MEDICATION", "QTY", "PATIENT", "PHARMACIST", "DISPENSED"}, rows)
				})
			}

			rc, err := s.service.Dispense(cmd.Context(), args[0], pharmacist)
			if err != nil {
				return s.out.Fail("dispense failed", err)
			}
			return s.out.Success(rc, func(w io.Writer) {
				fmt.Fprintf(w, "Dispensed %d x %s to %s (%d left)\n", rc.Quantity, rc.MedicineName, rc.PatientName, rc.RemainingStock)
			})
		},
	}
	cmd.Flags().StringVar(&pharmacist, "pharmacist", "", "id of the dispensing pharmacist")
	cmd.Flags().BoolVar(&showHistory, "history", false, "list completed dispenses")
	return cmd
}
