package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/atlekbai/entityql/internal/schema"
)

func newEntitiesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entities [name]",
		Short: "List the model's entities, or describe one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.require()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return printEntities(cmd.OutOrStdout(), s.cache)
			}
			ent, ok := s.cache.Entity(args[0])
			if !ok {
				return fmt.Errorf("entity %q not found", args[0])
			}
			return describeEntity(cmd.OutOrStdout(), s.cache, ent)
		},
	}
}

func printEntities(out io.Writer, cache *schema.Cache) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTABLE\tCOLUMNS")
	for _, name := range cache.Names() {
		ent := cache.Get(name)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", ent.Name, ent.TableName(), len(ent.Columns))
	}
	return w.Flush()
}

func describeEntity(out io.Writer, p schema.Provider, ent *schema.EntityDef) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s (%s)\n", ent.Name, ent.TableName())
	_, _ = fmt.Fprintln(w, "MEMBER\tKIND\tDETAIL")
	for i := range ent.Columns {
		c := &ent.Columns[i]
		kind, detail := string(c.Type), ""
		switch c.Relation {
		case schema.RelationReference, schema.RelationCollection:
			kind = "reference"
			if c.Relation == schema.RelationCollection {
				kind = "collection"
			}
			if target, ok := schema.Target(p, c); ok {
				detail = target.Name + " via " + c.ForeignKey
			}
		default:
			if c.Name == ent.PrimaryKey {
				detail = "primary key"
			}
			if c.Nullable {
				kind += "?"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, kind, detail)
	}
	return w.Flush()
}
