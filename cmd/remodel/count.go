package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var countCmd = &cobra.Command{
	Use:   "count TYPE",
	Short: "Count the instances of a type in the resource",
	Long:  `Counts the objects of TYPE and of its subtypes. With --exact only objects whose class is TYPE are counted.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		exact, _ := cmd.Flags().GetBool("exact")

		m, err := openModel(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if derr := dispose(cmd.Context(), m); err == nil {
				err = derr
			}
		}()

		query := m.AllOfKind
		if exact {
			query = m.AllOfType
		}
		objs, err := query(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), len(objs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
	countCmd.Flags().Bool("exact", false, "Exclude subtypes")
}
