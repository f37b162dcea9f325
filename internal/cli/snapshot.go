package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"remindme/internal/model"
	"remindme/internal/store"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and import stored reminders",
	}
	cmd.AddCommand(newSnapshotListCmd(opts), newSnapshotCheckCmd(opts), newSnapshotImportCmd(opts))
	return cmd
}

func newSnapshotListCmd(opts *options) *cobra.Command {
	var owner int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(true)
			if err != nil {
				return err
			}
			defer s.Close()

			snap, skipped, err := s.Inspect(cmd.Context())
			if err != nil {
				return err
			}
			for _, rerr := range skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %v\n", rerr)
			}
			if owner != 0 {
				snap = model.Snapshot{owner: snap[owner]}
			}
			return writeSnapshot(cmd.OutOrStdout(), snap, opts.format)
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Only list reminders of this Telegram user id")
	return cmd
}

func newSnapshotCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate every stored reminder",
		Long:  "Validate every stored reminder and report counts per owner. Exits non-zero when a record would not survive recovery.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(true)
			if err != nil {
				return err
			}
			defer s.Close()

			snap, skipped, err := s.Inspect(cmd.Context())
			if err != nil {
				return err
			}
			report := checkSnapshot(snap, skipped, time.Now())
			if err := writeReport(cmd.OutOrStdout(), report, opts.format); err != nil {
				return err
			}
			if len(report.Problems) > 0 {
				return fmt.Errorf("found %d problems", len(report.Problems))
			}
			return nil
		},
	}
}

func newSnapshotImportCmd(opts *options) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a reminders.json snapshot into the configured store",
		Long:  "Import a JSON snapshot, including the record shape written by the first version of the bot, into the configured store. Reminders whose id already exists are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger, err := openStore(false)
			if err != nil {
				return err
			}
			defer s.Close()

			src := store.NewReadOnlyFileBackend(args[0], logger)
			incoming, skipped, err := src.Load(cmd.Context())
			if err != nil {
				return err
			}
			for _, rerr := range skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %v\n", rerr)
			}
			current, err := s.Load(cmd.Context())
			if err != nil {
				return err
			}
			if replace {
				current = model.Snapshot{}
			}

			merged, n := mergeSnapshots(current, incoming)
			if err := s.Save(cmd.Context(), merged); err != nil {
				return err
			}
			if opts.format == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"ok": true, "imported": n, "skipped": len(skipped)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d reminders (%d total)\n", n, merged.Count())
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Drop the stored reminders before importing")
	return cmd
}

// mergeSnapshots adds the incoming reminders whose id is not stored yet.
func mergeSnapshots(current, incoming model.Snapshot) (model.Snapshot, int) {
	out := make(model.Snapshot, len(current)+len(incoming))
	seen := make(map[string]bool)
	for owner, rs := range current {
		for _, r := range rs {
			seen[r.ID] = true
			out[owner] = append(out[owner], r)
		}
	}
	n := 0
	for owner, rs := range incoming {
		for _, r := range rs {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out[owner] = append(out[owner], r)
			n++
		}
	}
	return out, n
}

type checkReport struct {
	Owners    int           `json:"owners"`
	Reminders int           `json:"reminders"`
	Awaiting  int           `json:"awaiting"`
	Overdue   int           `json:"overdue"`
	PerOwner  map[int64]int `json:"per_owner"`
	Problems  []string      `json:"problems,omitempty"`
}

func checkSnapshot(snap model.Snapshot, skipped []model.RecordError, now time.Time) checkReport {
	report := checkReport{PerOwner: make(map[int64]int, len(snap))}
	for _, rerr := range skipped {
		id := rerr.ID
		if id == "" {
			id = "?"
		}
		report.Problems = append(report.Problems, fmt.Sprintf("%d/%s: cannot decode: %v", rerr.Owner, id, rerr.Err))
	}
	ids := make(map[string]int64)
	schedules := make(map[string]string)

	for _, owner := range sortedOwners(snap) {
		rs := snap[owner]
		if len(rs) == 0 {
			continue
		}
		report.Owners++
		report.PerOwner[owner] = len(rs)
		for _, r := range rs {
			report.Reminders++
			problem := func(format string, args ...any) {
				report.Problems = append(report.Problems, fmt.Sprintf("%d/%s: ", owner, r.ID)+fmt.Sprintf(format, args...))
			}

			if err := r.Validate(); err != nil {
				problem("%v", err)
			}
			if prev, ok := ids[r.ID]; ok {
				problem("id also used by owner %d", prev)
			}
			ids[r.ID] = owner
			if other, ok := schedules[r.ScheduleID]; ok && r.ScheduleID != "" {
				problem("schedule id %s also used by %s", r.ScheduleID, other)
			}
			schedules[r.ScheduleID] = r.ID

			if r.IsAwaiting() {
				report.Awaiting++
				if !r.RequiresConfirmation {
					problem("awaiting confirmation but confirmation is not required")
				}
				if !r.IsOneShot() && (r.RetryAt == nil || r.RetryScheduleID == "") {
					problem("recurring reminder awaits confirmation without a retry trigger")
				}
			}
			if !r.IsAwaiting() && r.IsOneShot() && r.FireAt.Before(now) {
				report.Overdue++
			}
		}
	}
	return report
}

func writeReport(w io.Writer, report checkReport, format string) error {
	if format == "json" {
		return printJSON(w, report)
	}
	fmt.Fprintf(w, "Owners: %d\nReminders: %d\nAwaiting confirmation: %d\nOverdue one-shots: %d\n",
		report.Owners, report.Reminders, report.Awaiting, report.Overdue)
	owners := make([]int64, 0, len(report.PerOwner))
	for owner := range report.PerOwner {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	for _, owner := range owners {
		fmt.Fprintf(w, "  %d: %d\n", owner, report.PerOwner[owner])
	}
	for _, p := range report.Problems {
		fmt.Fprintf(w, "PROBLEM %s\n", p)
	}
	return nil
}

func writeSnapshot(w io.Writer, snap model.Snapshot, format string) error {
	if format == "json" {
		out := make(map[string][]model.Reminder, len(snap))
		for owner, rs := range snap {
			out[strconv.FormatInt(owner, 10)] = rs
		}
		return printJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tID\tFIRE AT (UTC)\tREPEAT\tCONFIRM\tSTATE\tTEXT")
	for _, owner := range sortedOwners(snap) {
		for _, r := range snap[owner] {
			repeat := r.Recurrence.String()
			if r.IsOneShot() {
				repeat = "-"
			}
			confirm := "-"
			if r.RequiresConfirmation {
				confirm = r.RetryInterval.String()
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				owner, r.ID, r.FireAt.UTC().Format("2006-01-02 15:04"), repeat, confirm, r.State, r.Text)
		}
	}
	return tw.Flush()
}

func sortedOwners(snap model.Snapshot) []int64 {
	owners := make([]int64, 0, len(snap))
	for owner := range snap {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners
}
