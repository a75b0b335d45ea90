package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/pipewatch/internal/model"
)

func newPipelinesCmd(g *globals) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "List pipelines and their triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := g.newApp(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			pipelines, err := a.client.ListPipelines(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), pipelines)
			}
			printPipelines(cmd.OutOrStdout(), pipelines)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// printPipelines lists every pipeline with its scheduled triggers followed by
// the manual trigger, which every pipeline has.
func printPipelines(w io.Writer, pipelines []model.Pipeline) {
	if len(pipelines) == 0 {
		dimColor.Fprintln(w, "No pipelines")
		return
	}
	for i, p := range pipelines {
		if i > 0 {
			fmt.Fprintln(w)
		}
		headerColor.Fprintf(w, "%s", p.ID)
		if p.Name != "" {
			fmt.Fprintf(w, "  %s", p.Name)
		}
		fmt.Fprintln(w)
		if p.Description != "" {
			dimColor.Fprintf(w, "  %s\n", p.Description)
		}
		for _, t := range p.Triggers {
			schedule := orDash(t.Schedule)
			if t.Paused {
				schedule += " (paused)"
			}
			fmt.Fprintf(w, "  %-16s %s\n", t.ID, schedule)
		}
		dimColor.Fprintf(w, "  %-16s on demand\n", model.ManualTriggerID)
	}
}
