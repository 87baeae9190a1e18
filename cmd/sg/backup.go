package main

import (
	"fmt"
	"sort"
	"strings"

	"sg-go/internal/sg"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func printSnapshot(m *sg.BackupMetadata) {
	fmt.Printf("%s  %-13s  %-14s  %8s  %s\n",
		m.ID,
		m.OperationType,
		humanize.Time(m.Timestamp),
		humanize.Bytes(uint64(m.TotalSize)),
		m.Description,
	)
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage snapshots",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot every existing document",
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("message")

		a, err := newApp(cmd, "backup-create", desc)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.Backup(desc)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("Created snapshot %s\n", id)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		op, _ := cmd.Flags().GetString("operation")
		since, _ := cmd.Flags().GetDuration("since")

		a, err := newApp(cmd, "backup-list")
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.ListBackups(op, since)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, m := range list {
			printSnapshot(m)
		}
		return nil
	},
}

var backupShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a snapshot's files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "backup-show", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		meta, entries, err := a.BackupDetails(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot:    %s\n", meta.ID)
		fmt.Printf("Created:     %s (%s)\n", meta.Timestamp.Local().Format("2006-01-02 15:04:05"), humanize.Time(meta.Timestamp))
		fmt.Printf("Operation:   %s\n", meta.OperationType)
		fmt.Printf("Description: %s\n", meta.Description)
		fmt.Printf("Size:        %s\n", humanize.Bytes(uint64(meta.TotalSize)))
		for _, e := range entries {
			fmt.Printf("  %s  %8s  %s\n", e.Checksum[:12], humanize.Bytes(uint64(e.SizeBytes)), e.OriginalPath)
		}
		return nil
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify ID",
	Short: "Check a snapshot's files against its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "backup-verify", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		ok, problems := a.VerifyBackup(args[0])
		if ok {
			fmt.Printf("Snapshot %s is intact.\n", args[0])
			return nil
		}
		for _, p := range problems {
			fmt.Printf("  %s\n", p)
		}
		return fmt.Errorf("snapshot %s failed verification", args[0])
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Restore every file of a snapshot behind a safety snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		return runRecovery(cmd, "backup-restore", args[0], yes)
	},
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Apply retention and remove stale temp files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "backup-cleanup")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Cleanup()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d snapshot(s), %d write backup(s), %d temp file(s), %d journal entries\n",
			res.SnapshotsRemoved, res.WriteBackupsRemoved, len(res.TempFilesRemoved), res.JournalPruned)
		for _, f := range res.TempFilesRemoved {
			fmt.Printf("  %s\n", f)
		}
		return nil
	},
}

var backupReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize snapshots by operation",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "backup-report")
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.BackupReport()
		if err != nil {
			return err
		}
		fmt.Printf("%s snapshot(s), %s\n", humanize.Comma(int64(rep.TotalSnapshots)), humanize.Bytes(uint64(rep.TotalSize)))

		ops := make([]string, 0, len(rep.ByOperation))
		for op := range rep.ByOperation {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			s := rep.ByOperation[op]
			fmt.Printf("  %-13s %4d  %8s\n", op, s.Count, humanize.Bytes(uint64(s.TotalSize)))
		}
		if rep.Latest != nil {
			fmt.Print("Latest: ")
			printSnapshot(rep.Latest)
		}
		return nil
	},
}

// runRecovery restores the snapshot behind optionID, asking first unless yes.
func runRecovery(cmd *cobra.Command, name, optionID string, yes bool) error {
	a, err := newApp(cmd, name, optionID)
	if err != nil {
		return err
	}
	defer a.Close()

	ask := func(o *sg.RecoveryOption) bool {
		if yes {
			return true
		}
		fmt.Printf("Restore %s (%s risk) over:\n", o.SnapshotID, o.Risk)
		for _, f := range o.AffectedFiles {
			fmt.Printf("  %s\n", f)
		}
		return confirm("Proceed?")
	}

	res := a.Recover(optionID, ask)
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if res.SafetySnapshotID != "" {
		fmt.Printf("Safety snapshot: %s\n", res.SafetySnapshotID)
	}
	if !res.Success {
		if res.SafetyRestoreAttempted && res.SafetyRestored {
			fmt.Println("Previous files were put back.")
		}
		return fmt.Errorf("recovery failed: %s", res.Error)
	}
	fmt.Printf("Restored %s\n", strings.Join(res.FilesRestored, ", "))
	return nil
}

// recover command
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Restore documents from snapshots",
}

var recoverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ranked recovery options",
	RunE: func(cmd *cobra.Command, args []string) error {
		crisis, _ := cmd.Flags().GetBool("crisis")

		a, err := newApp(cmd, "recover-list")
		if err != nil {
			return err
		}
		defer a.Close()

		opts, err := a.RecoveryOptions(crisis)
		if err != nil {
			return err
		}
		if len(opts) == 0 {
			fmt.Println("No recovery options.")
			return nil
		}
		for _, o := range opts {
			fmt.Printf("%s  %-6s  %-14s  %s\n", o.ID, o.Risk, humanize.Time(o.Timestamp), o.Description)
			fmt.Printf("    %s; %d file(s)\n", o.Recommendation, len(o.AffectedFiles))
		}
		return nil
	},
}

var recoverRunCmd = &cobra.Command{
	Use:   "run OPTION",
	Short: "Restore the snapshot behind a recovery option",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		return runRecovery(cmd, "recover-run", args[0], yes)
	},
}

var recoverFileCmd = &cobra.Command{
	Use:   "file DOCUMENT",
	Short: "List every snapshot copy of a document (trainer, a slot number or a path)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "recover-file", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.FileRecovery(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s %s\n", rep.Path, rep.CurrentStatus, rep.CurrentDetail)
		for _, c := range rep.Candidates {
			fmt.Printf("  %s  %-9s  %-14s  %8s  %s\n",
				c.SnapshotID, c.Status, humanize.Time(c.Timestamp), humanize.Bytes(uint64(c.SizeBytes)), c.Description)
		}
		for _, r := range rep.Recommendations {
			fmt.Printf("- %s\n", r)
		}
		return nil
	},
}

var recoverReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize backup health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "recover-report")
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.RecoveryReport()
		if err != nil {
			return err
		}
		fmt.Printf("Health: %s\n", rep.Health)
		fmt.Printf("Snapshots: %d total, %d recent, %d/%d intact\n",
			rep.TotalSnapshots, rep.RecentSnapshots, rep.Intact, rep.Checked)
		if rep.Latest != nil {
			fmt.Print("Latest: ")
			printSnapshot(rep.Latest)
		}
		for id, problems := range rep.Problems {
			fmt.Printf("  %s: %s\n", id, strings.Join(problems, "; "))
		}
		for _, r := range rep.Recommendations {
			fmt.Printf("- %s\n", r)
		}
		return nil
	},
}

func init() {
	backupCreateCmd.Flags().StringP("message", "m", "Manual backup", "Snapshot description")
	backupListCmd.Flags().StringP("operation", "o", "", "Only list snapshots of this operation type")
	backupListCmd.Flags().Duration("since", 0, "Only list snapshots younger than this")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupShowCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupCleanupCmd)
	backupCmd.AddCommand(backupReportCmd)

	recoverListCmd.Flags().Bool("crisis", false, "Also offer snapshots outside the recovery window")
	recoverRunCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	backupRestoreCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	recoverCmd.AddCommand(recoverListCmd)
	recoverCmd.AddCommand(recoverRunCmd)
	recoverCmd.AddCommand(recoverFileCmd)
	recoverCmd.AddCommand(recoverReportCmd)

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(recoverCmd)
}
