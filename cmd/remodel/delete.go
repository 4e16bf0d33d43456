package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an object and its contents, then commit",
	Long: `Deletes the object ID and everything it contains. References to the
deleted objects are removed first, except those held in derived or
read-only features.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		m, err := openModel(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if derr := dispose(cmd.Context(), m); err == nil {
				err = derr
			}
		}()

		obj, err := m.ElementByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := m.DeleteElement(cmd.Context(), obj); err != nil {
			return err
		}
		if err := m.Commit(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", obj)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
