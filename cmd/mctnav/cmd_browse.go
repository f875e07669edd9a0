package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/medcat-trainer-client/pkg/navigator"
)

func browseCmd() *cobra.Command {
	var (
		projectID int
		docID     int
		next      int
	)

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Load a project, select a document and print the navigator state",
		Long: "browse loads the project's document list, selects the requested document " +
			"(or the first unvalidated one), enriches its entities and prints the state as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			nav := d.navigator(navigator.Route{ProjectID: projectID, DocID: docID})
			if err := nav.LoadProject(ctx, projectID); err != nil {
				return fmt.Errorf("browse: %w", err)
			}
			for range next {
				if err := nav.NextDocument(ctx); err != nil {
					return fmt.Errorf("browse: next document: %w", err)
				}
			}
			return printJSON(cmd.OutOrStdout(), nav.Snapshot())
		},
	}

	cmd.Flags().IntVar(&projectID, "project", 0, "project id (required)")
	cmd.Flags().IntVar(&docID, "doc", 0, "document id to select")
	cmd.Flags().IntVar(&next, "next", 0, "advance this many documents after loading")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
