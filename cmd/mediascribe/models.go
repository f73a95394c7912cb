package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/mediascribe/internal/transcription"
)

func newModelsCommand() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:         "models",
		Short:       "List supported Whisper models",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			models := transcription.Models()
			if jsonOutput {
				return writeJSON(cmd, models)
			}
			rows := make([][]string, 0, len(models))
			for _, m := range models {
				name := m.Name
				if name == transcription.DefaultModel {
					name += " *"
				}
				rows = append(rows, []string{name, m.Size, m.Speed, m.Accuracy, m.MemoryRequired, m.RecommendedFor})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Model", "Size", "Speed", "Accuracy", "Memory", "Recommended for"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}
