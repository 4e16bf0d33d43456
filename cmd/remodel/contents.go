package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/remodel"
	"github.com/aretw0/remodel/internal/presentation/graph"
	"github.com/aretw0/remodel/internal/presentation/tui"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/transaction"
	"github.com/spf13/cobra"
)

var contentsCmd = &cobra.Command{
	Use:   "contents",
	Short: "List every object of the resource",
	Long: `Prefetches the resource and lists its objects depth first.

The default output is a markdown table; --pretty renders it for the
terminal. --format mermaid prints the containment tree and references as a
Mermaid flowchart instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		pretty, _ := cmd.Flags().GetBool("pretty")
		format, _ := cmd.Flags().GetString("format")
		highlight, _ := cmd.Flags().GetString("highlight")
		if format != "table" && format != "mermaid" {
			return fmt.Errorf("unknown format %q", format)
		}

		m, err := openModel(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if derr := dispose(cmd.Context(), m); err == nil {
				err = derr
			}
		}()

		ctx := cmd.Context()
		objs, err := m.AllContents(ctx)
		if err != nil {
			return err
		}

		var out string
		if format == "mermaid" {
			overlay := &graph.GraphOverlay{}
			if highlight != "" {
				marked, err := m.AllOfKind(ctx, highlight)
				if err != nil {
					return err
				}
				for _, o := range marked {
					overlay.Highlighted = append(overlay.Highlighted, string(o.ID()))
				}
			}
			elements, err := describe(ctx, m, objs)
			if err != nil {
				return err
			}
			out = graph.GenerateMermaid(elements, overlay)
		} else {
			rows, err := tabulate(ctx, m, objs)
			if err != nil {
				return err
			}
			out = tui.ContentsTable(m.Config().Path, rows)
			if pretty {
				render, err := tui.NewRenderer(terminalWidth(cmd.OutOrStdout()))
				if err != nil {
					return err
				}
				if out, err = render(out); err != nil {
					return err
				}
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(contentsCmd)
	contentsCmd.Flags().Bool("pretty", false, "Render the table for the terminal")
	contentsCmd.Flags().String("format", "table", "Output format (table, mermaid)")
	contentsCmd.Flags().String("highlight", "", "Highlight instances of this type in mermaid output")
}

// tabulate lists objects with their containment depth and attributes.
func tabulate(ctx context.Context, m *remodel.Model, objs []*transaction.Object) ([]tui.Row, error) {
	types := m.Transaction().Types()
	depth := make(map[domain.ObjectID]int, len(objs))

	rows := make([]tui.Row, 0, len(objs))
	for _, obj := range objs {
		container, err := obj.Container(ctx)
		if err != nil {
			return nil, err
		}
		if container != nil {
			depth[obj.ID()] = depth[container.ID()] + 1
		}

		var attrs []string
		for _, f := range types.AllFeatures(obj.Class()) {
			if f.IsReference() {
				continue
			}
			v, err := obj.Get(ctx, f.Name)
			if err != nil {
				return nil, err
			}
			if v != nil {
				attrs = append(attrs, fmt.Sprintf("%s=%v", f.Name, v))
			}
		}

		rows = append(rows, tui.Row{
			Depth:      depth[obj.ID()],
			ID:         string(obj.ID()),
			Class:      obj.Class().QualifiedName(),
			Attributes: strings.Join(attrs, ", "),
		})
	}
	return rows, nil
}

// describe collects the graph elements of objs, with containment taken
// from the container side.
func describe(ctx context.Context, m *remodel.Model, objs []*transaction.Object) ([]graph.Element, error) {
	types := m.Transaction().Types()
	elements := make([]graph.Element, len(objs))
	index := make(map[domain.ObjectID]int, len(objs))
	for i, obj := range objs {
		index[obj.ID()] = i
		elements[i] = graph.Element{
			ID:         string(obj.ID()),
			Class:      obj.Class().QualifiedName(),
			References: make(map[string][]string),
		}
	}

	for i, obj := range objs {
		for _, f := range types.AllFeatures(obj.Class()) {
			if !f.IsReference() {
				continue
			}
			targets, err := referenced(ctx, obj, f)
			if errors.Is(err, domain.ErrObjectNotFound) {
				// Derived and read-only features may still point at deleted objects.
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, target := range targets {
				if !f.Containment {
					elements[i].References[f.Name] = append(elements[i].References[f.Name], string(target.ID()))
					continue
				}
				if j, ok := index[target.ID()]; ok {
					elements[j].Container = string(obj.ID())
					elements[j].ContainingFeature = f.Name
				}
			}
		}
	}
	return elements, nil
}

func referenced(ctx context.Context, obj *transaction.Object, f *domain.Feature) ([]*transaction.Object, error) {
	if f.Many {
		return obj.List(ctx, f.Name)
	}
	v, err := obj.Get(ctx, f.Name)
	if err != nil {
		return nil, err
	}
	if target, ok := v.(*transaction.Object); ok && target != nil {
		return []*transaction.Object{target}, nil
	}
	return nil, nil
}
