package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fichaclinica/intake-api/internal/rut"
)

type rutReport struct {
	Input      string `json:"input"`
	Valid      bool   `json:"valid"`
	Formatted  string `json:"formatted,omitempty"`
	Normalized string `json:"normalized,omitempty"`
	CheckDigit string `json:"check_digit,omitempty"`
}

// NewRUTCommand groups the offline national ID tools.
func NewRUTCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rut",
		Short: "Validate and format Chilean RUTs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <rut>...",
		Short: "Validate one or more RUTs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRUTCheck(rootOpts, cmd, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "format <rut>",
		Short: "Print a RUT in canonical 12.345.678-5 form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := rut.Parse(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	})
	return cmd
}

func runRUTCheck(opts *RootOptions, cmd *cobra.Command, args []string) error {
	reports := make([]rutReport, 0, len(args))
	rows := make([][]string, 0, len(args))
	invalid := 0
	for _, arg := range args {
		r := rutReport{Input: arg, Valid: rut.Valid(arg)}
		if r.Valid {
			r.Formatted = rut.Format(arg)
			r.Normalized = rut.Normalize(arg)
		} else {
			invalid++
			if body := bodyOf(arg); body != "" {
				r.CheckDigit = rut.CheckDigit(body)
			}
		}
		reports = append(reports, r)
		status := "invalid"
		if r.Valid {
			status = "ok"
		} else if r.CheckDigit != "" {
			status = "invalid (expected check digit " + r.CheckDigit + ")"
		}
		rows = append(rows, []string{arg, status, r.Formatted})
	}

	p := newPrinter(opts, cmd.OutOrStdout())
	if err := p.table(reports, []string{"RUT", "STATUS", "FORMATTED"}, rows); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d invalid RUT(s)", invalid)
	}
	return nil
}

// bodyOf returns the numeric body of a cleaned RUT, without its check digit.
func bodyOf(value string) string {
	cleaned := rut.Clean(value)
	if len(cleaned) < 2 {
		return ""
	}
	body := cleaned[:len(cleaned)-1]
	for _, c := range body {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return body
}
