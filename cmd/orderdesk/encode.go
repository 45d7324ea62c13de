package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nicexiaonie/order-dispenser/internal/encoder"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <order-number>",
	Short: "Render the QR code for an existing order number",
	Args:  cobra.ExactArgs(1),
	RunE:  runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
}

func runEncode(cmd *cobra.Command, args []string) error {
	value, err := encoder.ParseValue(args[0])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	art, err := a.enc.Encode(cmd.Context(), value)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", art.Ref, art.Path)
	return nil
}
