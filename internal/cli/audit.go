package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fichaclinica/intake-api/internal/audit"
)

// NewAuditCommand lists audit events of a practitioner.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		patientID string
		eventType string
		since     time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded intake writes and identity conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := audit.Filter{
				PatientID: patientID,
				Type:      audit.EventType(eventType),
				Limit:     limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			return runAudit(rootOpts, cmd, filter)
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "", "only events of this patient id")
	cmd.Flags().StringVar(&eventType, "type", "", "only events of this type, e.g. intake.identity_conflict")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this, e.g. 24h")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events")
	return cmd
}

func runAudit(opts *RootOptions, cmd *cobra.Command, filter audit.Filter) error {
	return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
		if b.Audit == nil {
			return fmt.Errorf("audit trail requires DATABASE_URL")
		}
		filter.PractitionerID = opts.Practitioner
		events, err := b.Audit.Query(ctx, filter)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(events))
		for _, e := range events {
			rows = append(rows, []string{
				e.CreatedAt.Format(time.RFC3339),
				string(e.Type),
				e.PatientID,
				e.SessionKind,
				strings.Join(e.Fields, ","),
				string(e.Details),
			})
		}
		return newPrinter(opts, cmd.OutOrStdout()).table(events, []string{"CUANDO", "EVENTO", "PACIENTE", "TIPO", "CAMPOS", "DETALLE"}, rows)
	})
}
