package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bagleyctf/labrange/pkg/admission"
)

// Access commands
var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Inspect access decisions",
}

var accessCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show the access decision for the given identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return printJSON(a.gate.Permissions.Check(a.identity()))
	},
}

// Security commands
var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Exercise the admission security stages",
}

var securitySanitizeCmd = &cobra.Command{
	Use:   "sanitize INPUT",
	Short: "Run the input sanitizer over INPUT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cleaned, err := admission.Sanitize(args[0])
		if err != nil {
			return err
		}
		fmt.Println(cleaned)
		return nil
	},
}

var securityRateLimitCmd = &cobra.Command{
	Use:   "rate-limit USER",
	Short: "Record one request for USER and show the limiter's decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.gate.Limiter.Check(args[0])
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	accessCmd.AddCommand(accessCheckCmd)
	securityCmd.AddCommand(securitySanitizeCmd)
	securityCmd.AddCommand(securityRateLimitCmd)
}
