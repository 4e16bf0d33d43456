package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/remodel/pkg/schema"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create TYPE",
	Short: "Create a root object and commit it",
	Long: `Creates an instance of TYPE at the root of the resource, sets the
attributes given with --set and commits. Values are parsed according to
the attribute type declared in the metamodel. The new object id is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		sets, _ := cmd.Flags().GetStringArray("set")

		m, err := openModel(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if derr := dispose(cmd.Context(), m); err == nil {
				err = derr
			}
		}()

		obj, err := m.CreateInstance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, kv := range sets {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid --set %q: expected name=value", kv)
			}
			f, err := m.Transaction().Types().Feature(obj.Class(), name)
			if err != nil {
				return err
			}
			v, err := schema.ParseValue(f, value)
			if err != nil {
				return err
			}
			if err := obj.Set(cmd.Context(), name, v); err != nil {
				return err
			}
		}
		if err := m.Commit(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), obj.ID())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringArray("set", nil, "Attribute to set, as name=value (repeatable)")
}
