package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/medcat-trainer-client/pkg/navigator"
)

func entityCmd() *cobra.Command {
	var (
		projectID int
		docID     int
		entityID  int
		taskID    int
		valueID   int
	)

	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Select an entity, print its detail and optionally set a meta annotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			nav := d.navigator(navigator.Route{ProjectID: projectID, DocID: docID})
			if err := nav.LoadProject(ctx, projectID); err != nil {
				return fmt.Errorf("entity: %w", err)
			}
			if err := nav.SelectEntity(ctx, entityID); err != nil {
				return fmt.Errorf("entity: %w", err)
			}

			if taskID != 0 {
				if _, err := nav.SetMetaAnnotation(ctx, entityID, taskID, valueID); err != nil {
					return fmt.Errorf("entity: set meta annotation: %w", err)
				}
			}

			snap := nav.Snapshot()
			if snap.Document != nil {
				for _, e := range snap.Document.Entities {
					if e.ID == entityID {
						return printJSON(cmd.OutOrStdout(), e)
					}
				}
			}
			return fmt.Errorf("entity %d: %w", entityID, navigator.ErrEntityNotFound)
		},
	}

	cmd.Flags().IntVar(&projectID, "project", 0, "project id (required)")
	cmd.Flags().IntVar(&docID, "doc", 0, "document id (required)")
	cmd.Flags().IntVar(&entityID, "entity", 0, "annotated entity id (required)")
	cmd.Flags().IntVar(&taskID, "task", 0, "meta task id to set")
	cmd.Flags().IntVar(&valueID, "value", 0, "meta task value id to set")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("doc")
	_ = cmd.MarkFlagRequired("entity")
	cmd.MarkFlagsRequiredTogether("task", "value")
	return cmd
}
