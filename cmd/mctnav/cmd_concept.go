package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/medcat-trainer-client/pkg/enrich"
	"github.com/Sternrassler/medcat-trainer-client/pkg/trainer"
)

// conceptOutput is the JSON printed by the concept command.
type conceptOutput struct {
	CUI          string   `json:"cui"`
	PrettyName   string   `json:"pretty_name"`
	Description  string   `json:"desc,omitempty"`
	SemanticType string   `json:"semantic_type,omitempty"`
	Synonyms     []string `json:"synonyms,omitempty"`
	ICD10        []string `json:"icd10"`
	OPCS4        []string `json:"opcs4"`
}

func conceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "concept <cui>",
		Short: "Look up a concept and its ICD-10 and OPCS-4 codes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			c, err := d.enricher.Concept(ctx, args[0])
			if errors.Is(err, enrich.ErrEmptyResultSet) {
				return fmt.Errorf("concept %s: no match", args[0])
			}
			if err != nil {
				return fmt.Errorf("concept %s: %w", args[0], err)
			}

			icd, opcs, err := d.enricher.ConceptCodes(ctx, c)
			if err != nil {
				return fmt.Errorf("concept %s codes: %w", args[0], err)
			}

			return printJSON(cmd.OutOrStdout(), conceptOutput{
				CUI:          c.CUI,
				PrettyName:   c.PrettyName,
				Description:  c.Description,
				SemanticType: c.SemanticType,
				Synonyms:     c.SynonymList(),
				ICD10:        codeStrings(icd),
				OPCS4:        codeStrings(opcs),
			})
		},
	}
}

func codeStrings(codes []trainer.Code) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c.String()
	}
	return out
}
