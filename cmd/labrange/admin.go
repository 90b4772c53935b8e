package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bagleyctf/labrange/pkg/types"
)

// Admin commands
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator-only maintenance commands",
}

// requireSuperuser gates the admin surface on the configured superusers
func requireSuperuser(a *app) error {
	decision := a.gate.Permissions.Check(a.identity())
	if !decision.Superuser {
		return fmt.Errorf("admin commands require a superuser: %w", types.ErrPermissionDenied)
	}
	return nil
}

var adminForceCleanupCmd = &cobra.Command{
	Use:   "force-cleanup [OWNER]",
	Short: "Remove all labs of one owner, or every lab",
	Long: `Remove every lab belonging to OWNER regardless of state. With no
OWNER argument every lab on the host is removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := requireSuperuser(a); err != nil {
			return err
		}

		owner := ""
		if len(args) == 1 {
			owner = args[0]
		}
		cleaned, err := a.mgr.ForceCleanup(cmd.Context(), owner, userName)
		if err != nil {
			return err
		}
		if len(cleaned) == 0 {
			fmt.Println("Nothing to clean up")
			return nil
		}
		return printJSON(cleaned)
	},
}

var adminAutoCleanupCmd = &cobra.Command{
	Use:   "auto-cleanup",
	Short: "Run one expiry sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := requireSuperuser(a); err != nil {
			return err
		}

		cleaned, err := a.mgr.AutoCleanup(cmd.Context())
		if err != nil {
			return err
		}
		if len(cleaned) == 0 {
			fmt.Println("No expired labs")
			return nil
		}
		return printJSON(cleaned)
	},
}

var adminStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show host capacity and usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := requireSuperuser(a); err != nil {
			return err
		}

		stats, err := a.mgr.ServerStats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var adminVerifyCmd = &cobra.Command{
	Use:   "verify USER",
	Short: "Grant lab access to a user out of band",
	Long: `Record an access grant for USER. The grant persists across role
changes; the user keeps access even if their roles are later removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := requireSuperuser(a); err != nil {
			return err
		}

		numericID, _ := cmd.Flags().GetInt64("id")
		member := &types.VerifiedMember{
			Identity:   args[0],
			NumericID:  numericID,
			GrantedBy:  userName,
			VerifiedAt: time.Now(),
		}
		if err := a.gate.Verify(member); err != nil {
			return err
		}
		fmt.Printf("Verified %s\n", args[0])
		return nil
	},
}

func init() {
	adminCmd.AddCommand(adminForceCleanupCmd)
	adminCmd.AddCommand(adminAutoCleanupCmd)
	adminCmd.AddCommand(adminStatsCmd)
	adminCmd.AddCommand(adminVerifyCmd)

	adminVerifyCmd.Flags().Int64("id", 0, "Numeric id of the user being verified")
}
