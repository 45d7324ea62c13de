package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nextWithQR bool

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Issue the next order number and print it",
	Args:  cobra.NoArgs,
	RunE:  runNext,
}

func init() {
	nextCmd.Flags().BoolVar(&nextWithQR, "qr", false, "also render the QR code and print its reference")
	rootCmd.AddCommand(nextCmd)
}

func runNext(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	num, err := a.alloc.Next(cmd.Context())
	if err != nil {
		return err
	}

	if !nextWithQR {
		fmt.Fprintln(cmd.OutOrStdout(), num)
		return nil
	}

	art, err := a.enc.Encode(cmd.Context(), num)
	if err != nil {
		return fmt.Errorf("order %d issued but QR code failed: %w", num, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", num, art.Ref)
	return nil
}
