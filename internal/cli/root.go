// Package cli implements fichactl, the operator command line for the intake
// service.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fichaclinica/intake-api/internal/audit"
	"github.com/fichaclinica/intake-api/internal/drafts"
	"github.com/fichaclinica/intake-api/internal/records"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// AuditReader queries the audit trail.
type AuditReader interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// Backend is the set of stores commands operate on. Audit is nil when no
// database is configured.
type Backend struct {
	Records records.Repository
	Drafts  drafts.Store
	Audit   AuditReader
}

// Connector opens the backend. The returned func releases it.
type Connector func(ctx context.Context) (*Backend, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format       string
	Practitioner string
	Timeout      time.Duration

	connect Connector
}

// NewRootCommand creates the fichactl root command.
func NewRootCommand(connect Connector) *cobra.Command {
	opts := &RootOptions{connect: connect}

	cmd := &cobra.Command{
		Use:   "fichactl",
		Short: "Operator tools for the ficha clinica intake service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Practitioner, "practitioner", "p", "", "practitioner id the records belong to")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "timeout for backend calls")

	cmd.AddCommand(NewRUTCommand(opts))
	cmd.AddCommand(NewPatientCommand(opts))
	cmd.AddCommand(NewDraftCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}

// withBackend connects, runs fn with a deadline and releases the backend.
func (o *RootOptions) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b *Backend) error) error {
	if o.Practitioner == "" {
		return fmt.Errorf("--practitioner is required")
	}
	if o.connect == nil {
		return fmt.Errorf("no backend configured")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	defer cancel()

	b, release, err := o.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if release != nil {
		defer release()
	}
	return fn(ctx, b)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
