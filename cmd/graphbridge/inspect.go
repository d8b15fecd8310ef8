package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/example/go-graphbridge/internal/bridge"
	"github.com/example/go-graphbridge/internal/pipeline"
)

type signatureJSON struct {
	Name string `json:"name"`
	Fact string `json:"fact"`
}

type inspectReport struct {
	Model    string            `json:"model"`
	Plan     string            `json:"plan"`
	Metadata map[string]string `json:"metadata"`
	Inputs   []signatureJSON   `json:"inputs"`
	Outputs  []signatureJSON   `json:"outputs"`
}

func newInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print model metadata and resolved input/output facts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			model, err := openModel(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer model.Close()

			report := newInspectReport(cfg.Model.Path, model)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			writeInspectText(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")

	return cmd
}

func newInspectReport(path string, model *bridge.Model) inspectReport {
	return inspectReport{
		Model:    path,
		Plan:     string(model.PlanKind()),
		Metadata: model.Metadata(),
		Inputs:   signaturesJSON(model.Inputs()),
		Outputs:  signaturesJSON(model.Outputs()),
	}
}

func signaturesJSON(sigs []pipeline.Signature) []signatureJSON {
	out := make([]signatureJSON, len(sigs))
	for i, s := range sigs {
		out[i] = signatureJSON{Name: s.Name, Fact: s.Fact.String()}
	}
	return out
}

func writeInspectText(w io.Writer, r inspectReport) {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "model: %s\n", r.Model)
	fmt.Fprintf(sb, "plan:  %s\n", r.Plan)

	if len(r.Metadata) > 0 {
		fmt.Fprintln(sb, "metadata:")
		keys := make([]string, 0, len(r.Metadata))
		for k := range r.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(sb, "  %s: %s\n", k, r.Metadata[k])
		}
	}

	for _, section := range []struct {
		title string
		sigs  []signatureJSON
	}{{"inputs", r.Inputs}, {"outputs", r.Outputs}} {
		fmt.Fprintf(sb, "%s:\n", section.title)
		for i, s := range section.sigs {
			fmt.Fprintf(sb, "  %d  %-16s %s\n", i, s.Name, s.Fact)
		}
	}

	fmt.Fprint(w, sb.String())
}
