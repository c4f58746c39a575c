package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/store"
)

// NewPrescriptionCommand creates the prescription command group.
func NewPrescriptionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "prescription",
		Aliases: []string{"rx"},
		Short:   "Manage prescriptions",
	}
	cmd.AddCommand(newPrescriptionAddCommand(rootOpts))
	cmd.AddCommand(newPrescriptionListCommand(rootOpts))
	cmd.AddCommand(newPrescriptionStatusCommand(rootOpts))
	return cmd
}

func newPrescriptionAddCommand(rootOpts *RootOptions) *cobra.Command {
	var p model.Prescription
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an Active prescription",
		Example: `  rxvault prescription add --patient-id pat-1 --patient-name "Ada Obi" \
    --medication Amoxicillin --dosage 500mg --frequency "3x daily" --duration "7 days"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.service.AddPrescription(cmd.Context(), p)
			if err != nil {
				return s.out.Fail("add prescription failed", err)
			}
			return s.out.Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "Added prescription %s: %s for %s (%s)\n", out.ID, out.Medication, out.PatientName, out.Status)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&p.ID, "id", "", "prescription id (generated when empty)")
	fl.StringVar(&p.PatientID, "patient-id", "", "patient id")
	fl.StringVar(&p.PatientName, "patient-name", "", "patient name")
	fl.StringVar(&p.Medication, "medication", "", "medication name")
	fl.StringVar(&p.Dosage, "dosage", "", "dosage")
	fl.StringVar(&p.Frequency, "frequency", "", "frequency")
	fl.StringVar(&p.Duration, "duration", "", "course duration, e.g. \"7 days\"")
	fl.StringVar(&p.Instructions, "instructions", "", "instructions for the patient")
	fl.StringVar(&p.DoctorID, "doctor-id", "", "prescribing doctor id")
	fl.StringVar(&p.DoctorName, "doctor-name", "", "prescribing doctor name")
	_ = cmd.MarkFlagRequired("medication")
	return cmd
}

func newPrescriptionListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		filter store.PrescriptionFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prescriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				st, err := model.ParseStatus(status)
				if err != nil {
					return NewExitError(ExitCommandError, err.Error())
				}
				filter.Status = st
			}
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.service.ListPrescriptions(cmd.Context(), filter)
			if err != nil {
				return s.out.Fail("list prescriptions failed", err)
			}
			return s.out.Success(list, func(w io.Writer) {
				rows := make([][]string, 0, len(list))
				for _, p := range list {
					rows = append(rows, []string{p.ID, p.PatientName, p.Medication, p.Dosage, p.Duration, string(p.Status)})
				}
				s.out.Table(w, []string{"ID", "PATIENT", "MEDICATION", "DOSAGE", "DURATION", "STATUS"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only this status (Active|Dispensed|Approved|Rejected)")
	cmd.Flags().StringVar(&filter.PatientID, "patient-id", "", "only this patient")
	cmd.Flags().StringVar(&filter.DoctorID, "doctor-id", "", "only this doctor")
	cmd.Flags().StringVar(&filter.Medication, "medication", "", "only this medication")
	return cmd
}

func newPrescriptionStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status <id> <status>",
		Short:   "Move a prescription to Dispensed, Approved or Rejected",
		Example: `  rxvault prescription status rx-1 Approved`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := model.ParseStatus(args[1])
			if err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.service.UpdatePrescriptionStatus(cmd.Context(), args[0], st)
			if err != nil {
				return s.out.Fail("update status failed", err)
			}
			return s.out.Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "Prescription %s is now %s\n", out.ID, out.Status)
			})
		},
	}
}
