package main

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/example/go-graphbridge/internal/bridge"
)

type runReport struct {
	Outputs []bridge.Value `json:"outputs"`
}

func newRunCmd() *cobra.Command {
	var inputsPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the model once and print its outputs as JSON",
		Long: "Run the model once. Inputs come from a JSON file shaped like the\n" +
			"server's /run request body ({\"inputs\": [...]}); without --inputs\n" +
			"every input is zero-filled from its resolved fact.",
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

			inputs, err := loadInputs(inputsPath, cmd.InOrStdin(), model.Inputs())
			if err != nil {
				return err
			}

			outs, err := model.Run(cmd.Context(), inputs)
			if err != nil {
				return err
			}

			report := runReport{Outputs: make([]bridge.Value, len(outs))}
			for i, o := range outs {
				if report.Outputs[i], err = bridge.Encode(o); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVar(&inputsPath, "inputs", "", "JSON inputs file (- for stdin)")

	return cmd
}
