package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qualys/piiflow/internal/entities"
)

var entitiesCountry string

func newEntitiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List the detectable entities",
		Long: `List the entity catalog with each entity's default category.

Examples:
  piiflow entities
  piiflow entities --country India`,
		Args: cobra.NoArgs,
		RunE: runEntities,
	}
	cmd.Flags().StringVar(&entitiesCountry, "country", "", "also list the entities of this country")
	return cmd
}

func runEntities(cmd *cobra.Command, args []string) error {
	list := entities.Global()
	if entitiesCountry != "" {
		extra, ok := entities.Country(entitiesCountry)
		if !ok {
			return fmt.Errorf("unknown country %q (available: %v)", entitiesCountry, entities.Countries())
		}
		list = append(list, extra...)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tLABEL\tCATEGORY")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Code, e.Label, entities.DefaultCategory(e.Code))
	}
	return tw.Flush()
}
