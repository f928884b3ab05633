package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fichaclinica/intake-api/internal/records"
	"github.com/fichaclinica/intake-api/internal/rut"
)

const dateLayout = "2006-01-02"

// NewPatientCommand groups patient lookups.
func NewPatientCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Search patients and inspect their visit history",
	}

	var limit int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search patients by RUT prefix or name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatientSearch(rootOpts, cmd, strings.Join(args, " "), limit)
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", records.DefaultSearchLimit, "maximum number of results")

	history := &cobra.Command{
		Use:   "history <rut>",
		Short: "List every session of a patient, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatientHistory(rootOpts, cmd, args[0])
		},
	}

	var confirm bool
	remove := &cobra.Command{
		Use:   "delete <rut>",
		Short: "Delete a patient together with all their sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			return rootOpts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				if err := b.Records.DeletePatient(ctx, rootOpts.Practitioner, args[0]); err != nil {
					return notFound(err, "patient "+args[0])
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted patient %s\n", rut.Format(args[0]))
				return err
			})
		},
	}
	remove.Flags().BoolVar(&confirm, "yes", false, "confirm the deletion")

	cmd.AddCommand(search, history, remove)
	return cmd
}

func runPatientSearch(opts *RootOptions, cmd *cobra.Command, query string, limit int) error {
	return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
		patients, err := b.Records.SearchPatients(ctx, opts.Practitioner, query, limit)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(patients))
		for _, p := range patients {
			birth := ""
			if p.BirthDate != nil {
				birth = p.BirthDate.Format(dateLayout)
			}
			rows = append(rows, []string{rut.Format(p.RUT), p.FullName, birth, p.Phone})
		}
		return newPrinter(opts, cmd.OutOrStdout()).table(patients, []string{"RUT", "NOMBRE", "NACIMIENTO", "TELEFONO"}, rows)
	})
}

func runPatientHistory(opts *RootOptions, cmd *cobra.Command, nationalID string) error {
	return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
		entries, err := b.Records.PatientHistory(ctx, opts.Practitioner, nationalID)
		if err != nil {
			return notFound(err, "patient "+nationalID)
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.Date.Format(dateLayout),
				e.KindLabel,
				strconv.Itoa(e.Number),
				string(e.Status),
				e.ConsultationReason,
			})
		}
		return newPrinter(opts, cmd.OutOrStdout()).table(entries, []string{"FECHA", "TIPO", "N°", "ESTADO", "MOTIVO"}, rows)
	})
}

func notFound(err error, what string) error {
	if errors.Is(err, records.ErrNotFound) {
		return fmt.Errorf("%s not found", what)
	}
	return err
}
