package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/fichaclinica/intake-api/internal/drafts"
)

type draftReport struct {
	Slot      string    `json:"slot"`
	Exists    bool      `json:"exists"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Steps     []string  `json:"steps,omitempty"`
}

// NewDraftCommand inspects and purges a practitioner's stored draft.
func NewDraftCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Inspect or purge the saved form draft",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the saved draft of a practitioner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				slot := drafts.NewSlot(b.Drafts, rootOpts.Practitioner)
				d, err := slot.Load(ctx)
				if err != nil {
					return err
				}
				report := draftReport{Slot: slot.Key()}
				if d != nil {
					report.Exists = true
					report.Version = d.Version
					report.Timestamp = d.Timestamp
					for step := range d.Data {
						report.Steps = append(report.Steps, step)
					}
					sort.Strings(report.Steps)
				}
				p := newPrinter(rootOpts, cmd.OutOrStdout())
				if p.json() {
					return p.writeJSON(report)
				}
				if !report.Exists {
					_, err = fmt.Fprintf(p.w, "no draft in %s\n", report.Slot)
					return err
				}
				_, err = fmt.Fprintf(p.w, "draft %s saved %s (version %s, steps %v)\n",
					report.Slot, report.Timestamp.Format(time.RFC3339), report.Version, report.Steps)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete the saved draft of a practitioner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				slot := drafts.NewSlot(b.Drafts, rootOpts.Practitioner)
				existed, err := slot.Exists(ctx)
				if err != nil {
					return err
				}
				if err := slot.Clear(ctx); err != nil {
					return err
				}
				if !existed {
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "no draft in %s\n", slot.Key())
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", slot.Key())
				return err
			})
		},
	})
	return cmd
}
