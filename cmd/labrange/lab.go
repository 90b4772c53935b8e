package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bagleyctf/labrange/pkg/probe"
)

// Lab commands
var labCmd = &cobra.Command{
	Use:   "lab",
	Short: "Manage lab instances",
}

var labCreateCmd = &cobra.Command{
	Use:   "create TYPE",
	Short: "Provision a new lab instance",
	Long: `Provision a new lab instance of the given catalog type.

The request passes the full admission pipeline first. On success the
lab's address, port, and URL are printed along with the auto-cleanup
deadline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		labType, warning, err := a.gate.Admit(a.identity(), args[0])
		if err != nil {
			return err
		}
		if warning != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), warning)
		}

		result, err := a.mgr.Create(cmd.Context(), userName, labType)
		if err != nil {
			return err
		}

		if wait, _ := cmd.Flags().GetDuration("wait"); wait > 0 {
			waitCtx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			if err := probe.WaitReady(waitCtx, probe.NewHTTPChecker(result.URL), 2*time.Second); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Lab started but is not answering yet: %v\n", err)
			}
		}
		return printJSON(result)
	},
}

var labStopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Stop a running lab",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		name, warning, err := a.gate.Admit(a.identity(), args[0])
		if err != nil {
			return err
		}
		if warning != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), warning)
		}

		if err := a.mgr.Stop(cmd.Context(), userName, name); err != nil {
			return err
		}
		fmt.Printf("Lab %s stopped\n", name)
		return nil
	},
}

var labDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove a lab and erase its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		name, warning, err := a.gate.Admit(a.identity(), args[0])
		if err != nil {
			return err
		}
		if warning != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), warning)
		}

		if err := a.mgr.Delete(cmd.Context(), userName, name); err != nil {
			return err
		}
		fmt.Printf("Lab %s deleted\n", name)
		return nil
	},
}

var labStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show your running labs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		warning, err := a.gate.AdmitCommand(a.identity())
		if err != nil {
			return err
		}
		if warning != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), warning)
		}

		reports, err := a.mgr.Status(cmd.Context(), userName)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("No labs running")
			return nil
		}
		return printJSON(reports)
	},
}

var labListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available lab types",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return printJSON(a.cat.List())
	},
}

func init() {
	labCmd.AddCommand(labCreateCmd)
	labCmd.AddCommand(labStopCmd)
	labCmd.AddCommand(labDeleteCmd)
	labCmd.AddCommand(labStatusCmd)
	labCmd.AddCommand(labListCmd)

	labCreateCmd.Flags().Duration("wait", 0, "Wait up to this long for the lab to answer before returning")
}
