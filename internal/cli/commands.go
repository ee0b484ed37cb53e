package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"academy-attendance/internal/ingest"
)

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "sync [device-id]",
		Short: "Pull new captures from one device or every active pull device",
		Example: `  attendancectl sync 65f1c0ffee0123456789abcd
  attendancectl sync --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("give a device id or --all, not both")
			}
			if !all && len(args) != 1 {
				return errors.New("a device id is required unless --all is set")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := rootOpts.client()
			out := cmd.OutOrStdout()

			if all {
				reports, err := c.SyncAll(cmd.Context())
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return writeJSONOut(out, reports)
				}
				writeReports(out, reports)
				for _, r := range reports {
					if r.Error != "" {
						return fmt.Errorf("%d of %d devices failed", countFailed(reports), len(reports))
					}
				}
				return nil
			}

			report, err := c.SyncDevice(cmd.Context(), args[0])
			if report != nil {
				if rootOpts.Format == "json" {
					if werr := writeJSONOut(out, report); werr != nil {
						return werr
					}
				} else {
					writeReports(out, []ingest.SyncReport{*report})
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "sync every active pull device")
	return cmd
}

func countFailed(reports []ingest.SyncReport) int {
	n := 0
	for _, r := range reports {
		if r.Error != "" {
			n++
		}
	}
	return n
}

func writeReports(w io.Writer, reports []ingest.SyncReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tFETCHED\tAPPLIED\tREJECTED\tUNRESOLVED\tMALFORMED\tFAILED\tWATERMARK\tERROR")
	for _, r := range reports {
		watermark := "kept"
		if r.Advanced {
			watermark = "advanced"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.DeviceName, r.Fetched, r.Applied, r.Rejected, r.Unresolved, r.Malformed, r.Failed, watermark, r.Error)
	}
	tw.Flush()
}

func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <device-id>",
		Short: "Check that a device answers and update its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := rootOpts.client().Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), result)
			}
			if result.Reachable {
				fmt.Fprintf(cmd.OutOrStdout(), "%s reachable (status %s)\n", args[0], result.Status)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s unreachable: %s\n", args[0], result.Error)
			return fmt.Errorf("device %s unreachable", args[0])
		},
	}
}

func NewDevicesCommand(rootOpts *RootOptions) *cobra.Command {
	var delivery, status string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := rootOpts.client().Devices(cmd.Context(), delivery, status)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), devices)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDELIVERY\tIDENTITY\tSTATUS\tLAST SYNC\tFAILURES")
			for _, d := range devices {
				lastSync := "never"
				if d.LastSyncAt != nil {
					lastSync = d.LastSyncAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					d.ID.Hex(), d.Name, d.Delivery, d.Identity, d.Status, lastSync, d.ConsecutiveFailures)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&delivery, "delivery", "", "filter by delivery model (push|pull)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active|inactive)")
	return cmd
}

func NewUnresolvedCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "unresolved",
		Short: "List device events that could not be matched to a person",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := rootOpts.client().Unresolved(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), events)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RECEIVED\tSTATUS\tCODE\tNAME\tREASON")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					ev.ReceivedAt.Format(time.RFC3339), ev.Status, ev.EmployeeCode, ev.ReportedName, ev.Reason)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}
