package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-graphbridge/internal/config"
	"github.com/example/go-graphbridge/internal/doctor"
	"github.com/example/go-graphbridge/internal/ort"
)

func newDoctorCmd() *cobra.Command {
	var skipModel bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dcfg := doctor.Config{
				Backend: cfg.Runtime.Backend,
				ORTVersion: func() (string, error) {
					info, err := ort.DetectRuntime(cfg.Runtime)
					if err != nil {
						return "", err
					}
					return info.Version, nil
				},
				ORTAPIVersion: cfg.Runtime.ORTAPIVersion,
				SkipORT:       cfg.Runtime.Backend != config.BackendORT,
				Format:        cfg.Model.Format,
				Fetcher:       modelFetcher(cfg.Model),
			}
			if !skipModel {
				dcfg.ModelPath = cfg.Model.Path
			}

			out := cmd.OutOrStdout()
			result := doctor.Run(cmd.Context(), dcfg, out)

			if len(cfg.Model.Facts) > 0 {
				if _, err := config.ParseFacts(cfg.Model.Facts); err != nil {
					result.AddFailure(fmt.Sprintf("input facts: %v", err))
					_, _ = fmt.Fprintf(out, "%s input facts: %v\n", doctor.FailMark, err)
				} else {
					_, _ = fmt.Fprintf(out, "%s input facts: %d declared\n", doctor.PassMark, len(cfg.Model.Facts))
				}
			}

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipModel, "skip-model", false, "Skip the model checks")

	return cmd
}
