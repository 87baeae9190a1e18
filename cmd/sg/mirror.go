package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// mirror command
var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Copy snapshots to and from the vault",
}

var mirrorPushCmd = &cobra.Command{
	Use:   "push [ID]",
	Short: "Upload a snapshot (default: the latest) encrypted to the vault",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) > 0 {
			id = args[0]
		}

		a, err := newApp(cmd, "mirror-push", id)
		if err != nil {
			return err
		}
		defer a.Close()

		pushed, err := a.MirrorPush(id)
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		fmt.Printf("Pushed snapshot %s\n", pushed)
		return nil
	},
}

var mirrorPullCmd = &cobra.Command{
	Use:   "pull ID",
	Short: "Download a snapshot from the vault into the local store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "mirror-pull", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		local, err := a.MirrorPull(args[0], pass)
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		fmt.Printf("Pulled %s as local snapshot %s\n", args[0], local)
		return nil
	},
}

var mirrorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots stored in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "mirror-list")
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.MirrorList()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No mirrored snapshots.")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	mirrorCmd.AddCommand(mirrorPushCmd)
	mirrorCmd.AddCommand(mirrorPullCmd)
	mirrorCmd.AddCommand(mirrorListCmd)
	rootCmd.AddCommand(mirrorCmd)
}
