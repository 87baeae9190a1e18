package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"sg-go/internal/app"
	"sg-go/internal/document"
	"sg-go/internal/sg"
	"sg-go/internal/validate"
	"sg-go/internal/watch"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func printIssues(res validate.Result) {
	for _, is := range res.Issues {
		fmt.Printf("  %-7s %s: %s\n", is.Severity, is.Path, is.Message)
	}
}

func printSaveResult(res *sg.SaveResult) error {
	if res.Validation != nil {
		printIssues(*res.Validation)
	}
	if !res.Success {
		if res.RollbackPerformed {
			fmt.Println("Rolled back.")
			for _, f := range res.RollbackFailures {
				fmt.Printf("  could not restore %s\n", f)
			}
		}
		return fmt.Errorf("save failed: %s", res.Error)
	}
	for _, f := range res.FilesSaved {
		fmt.Printf("Saved %s\n", f)
	}
	if res.BackupID != "" {
		fmt.Printf("Previous version kept in snapshot %s\n", res.BackupID)
	}
	return nil
}

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a document without saving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		withSlot, _ := cmd.Flags().GetString("with-slot")

		a, err := newApp(cmd, "validate", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		var res validate.Result
		if withSlot != "" {
			if res, err = a.ValidatePair(args[0], withSlot); err != nil {
				return err
			}
			fmt.Printf("%s + %s: %s\n", args[0], withSlot, res.Summary())
		} else {
			var k validate.Kind
			if res, k, err = a.Validate(args[0], kind); err != nil {
				return err
			}
			fmt.Printf("%s %s: %s\n", k, args[0], res.Summary())
		}
		printIssues(res)
		if !res.Valid {
			return fmt.Errorf("document is invalid")
		}
		return nil
	},
}

// save command
var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a document",
}

var saveTrainerCmd = &cobra.Command{
	Use:   "trainer FILE",
	Short: "Save FILE as the trainer document (- reads stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("message")

		a, err := newApp(cmd, "save-trainer", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SaveTrainer(args[0], desc)
		if err != nil {
			return err
		}
		return printSaveResult(res)
	},
}

var saveSlotCmd = &cobra.Command{
	Use:   "slot N FILE",
	Short: "Save FILE into run slot N (- reads stdin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("message")
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid slot %q", args[0])
		}

		a, err := newApp(cmd, "save-slot", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SaveSlot(n, args[1], desc)
		if err != nil {
			return err
		}
		return printSaveResult(res)
	},
}

var txCmd = &cobra.Command{
	Use:   "tx LABEL WRITE...",
	Short: "Save several documents together; WRITE is trainer=FILE or N=FILE",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("message")

		writes := make([]app.TxWrite, 0, len(args)-1)
		for _, arg := range args[1:] {
			w, err := app.ParseTxWrite(arg)
			if err != nil {
				return err
			}
			writes = append(writes, w)
		}

		a, err := newApp(cmd, "transaction", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Transaction(args[0], desc, writes)
		if err != nil {
			return err
		}
		return printSaveResult(res)
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair TARGET FILE",
	Short: "Revert invalid fields of FILE to the saved document; TARGET is trainer or a slot number",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		target, err := app.ParseTxWrite(args[0] + "=" + args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "repair", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, corrections, res, err := a.Repair(target.Slot, target.Source)
		if err != nil {
			return err
		}
		for _, c := range corrections {
			fmt.Fprintf(os.Stderr, "  %s: %s -> %s (%s)\n", c.Path, compact(c.From), compact(c.To), c.Source)
		}
		fmt.Fprintf(os.Stderr, "%d correction(s); %s\n", len(corrections), res.Summary())

		data, err := doc.MarshalIndent()
		if err != nil {
			return err
		}
		if out == "" {
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		return nil
	},
}

func compact(v *document.Value) string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "?"
	}
	return string(b)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View journaled operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-12s  %s  %-8s  %-8s  %s\n",
				op.ID,
				op.Kind,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Detail,
			)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check documents, snapshots and the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "status")
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.Status()
		fmt.Printf("System: %s\n", st.System.Overall())
		for _, c := range st.System.Checks {
			mark := "ok"
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("  %-16s %-4s %s\n", c.Name, mark, c.Detail)
		}

		fmt.Println("Documents:")
		for _, r := range st.Documents {
			printReport(r)
		}

		if st.Vault == "" {
			fmt.Println("Vault: none configured")
		} else if st.VaultError != nil {
			fmt.Printf("Vault: %s unreachable: %v\n", st.Vault, st.VaultError)
		} else {
			fmt.Printf("Vault: %s ok\n", st.Vault)
		}
		fmt.Printf("Keys: %v\n", st.KeysReady)
		fmt.Printf("Journal: %d operations recorded\n", st.Journal)

		if !st.System.OK() {
			return fmt.Errorf("system is degraded")
		}
		return nil
	},
}

func printReport(r watch.Report) {
	detail := ""
	switch {
	case r.Err != nil:
		detail = r.Err.Error()
	case r.Status != watch.StatusMissing:
		detail = r.Result.Summary()
	}
	fmt.Printf("  %-10s %-9s %s (%s)\n", r.Status, r.Kind, r.Path, detail)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report documents that become unreadable or invalid",
	RunE: func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")

		a, err := newApp(cmd, "watch")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", a.Layout().UserDir())
		return a.Watch(ctx, debounce, func(r watch.Report) {
			fmt.Printf("%s ", humanize.Time(r.CheckedAt))
			printReport(r)
		})
	},
}

func init() {
	validateCmd.Flags().StringP("kind", "k", "", "Document kind (trainer or slot); inferred from the file name when empty")
	validateCmd.Flags().String("with-slot", "", "Validate FILE as a trainer together with this slot document")
	repairCmd.Flags().StringP("output", "o", "", "Write the repaired document here instead of stdout")

	for _, c := range []*cobra.Command{saveTrainerCmd, saveSlotCmd, txCmd} {
		c.Flags().StringP("message", "m", "", "Description stored with the snapshot")
	}
	saveCmd.AddCommand(saveTrainerCmd)
	saveCmd.AddCommand(saveSlotCmd)

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a changed document is checked")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}
