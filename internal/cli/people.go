package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rxvault/internal/model"
)

// NewPatientCommand creates the patient command group.
func NewPatientCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Manage patients",
	}

	var (
		p   model.Patient
		dob string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a patient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDate(dob)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --dob: %v", err))
			}
			p.DateOfBirth = d

			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.service.AddPatient(cmd.Context(), p)
			if err != nil {
				return s.out.Fail("add patient failed", err)
			}
			return s.out.Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "Added patient %s (%s)\n", out.ID, out.Name)
			})
		},
	}
	add.Flags().StringVar(&p.ID, "id", "", "patient id (generated when empty)")
	add.Flags().StringVar(&p.Name, "name", "", "full name")
	add.Flags().StringVar(&dob, "dob", "", "date of birth (YYYY-MM-DD)")
	add.Flags().StringVar(&p.Contact, "contact", "", "phone or email")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List patients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			patients, err := s.service.ListPatients(cmd.Context())
			if err != nil {
				return s.out.Fail("list patients failed", err)
			}
			return s.out.Success(patients, func(w io.Writer) {
				rows := make([][]string, 0, len(patients))
				for _, p := range patients {
					rows = append(rows, []string{p.ID, p.Name, p.DateOfBirth.String(), p.Contact})
				}
				s.out.Table(w, []string{"ID", "NAME", "BORN", "CONTACT"}, rows)
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

// NewEmployeeCommand creates the employee command group.
func NewEmployeeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "employee",
		Short: "Manage pharmacists, doctors and other staff",
	}

	var e model.Employee
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an employee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.service.AddEmployee(cmd.Context(), e)
			if err != nil {
				return s.out.Fail("add employee failed", err)
			}
			return s.out.Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "Added %s %s (%s)\n", out.Role, out.ID, out.Name)
			})
		},
	}
	add.Flags().StringVar(&e.ID, "id", "", "employee id (generated when empty)")
	add.Flags().StringVar(&e.Name, "name", "", "full name")
	add.Flags().StringVar(&e.Role, "role", "pharmacist", "role, e.g. pharmacist or doctor")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List employees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			staff, err := s.service.ListEmployees(cmd.Context())
			if err != nil {
				return s.out.Fail("list employees failed", err)
			}
			return s.out.Success(staff, func(w io.Writer) {
				rows := make([][]string, 0, len(staff))
				for _, e := range staff {
					rows = append(rows, []string{e.ID, e.Name, e.Role})
				}
				s.out.Table(w, []string{"ID", "NAME", "ROLE"}, rows)
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}
