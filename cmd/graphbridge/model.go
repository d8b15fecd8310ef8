package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/goccy/go-json"

	"github.com/example/go-graphbridge/internal/bridge"
	"github.com/example/go-graphbridge/internal/config"
	"github.com/example/go-graphbridge/internal/engine"
	"github.com/example/go-graphbridge/internal/fetch"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/ort"
	"github.com/example/go-graphbridge/internal/pipeline"
)

// pipelineConfig maps the model section of the config onto a pipeline
// configuration.
func pipelineConfig(cfg config.ModelConfig) (pipeline.Config, error) {
	pc := pipeline.Config{
		InputNames:  cfg.InputNames,
		OutputNames: cfg.OutputNames,
		Optimize:    cfg.Optimize,
	}
	if cfg.Format != "" {
		format, err := graph.ParseFormat(cfg.Format)
		if err != nil {
			return pipeline.Config{}, err
		}
		pc.Format = format
	}
	if len(cfg.Facts) > 0 {
		facts, err := config.ParseFacts(cfg.Facts)
		if err != nil {
			return pipeline.Config{}, err
		}
		pc.InputFacts = facts
	}
	return pc, nil
}

func modelFetcher(cfg config.ModelConfig) fetch.Fetcher {
	return fetch.Auto{HTTP: fetch.HTTP{SHA256: cfg.SHA256}}
}

// newBackend builds the configured engine backend. The ort backend
// bootstraps the ONNX Runtime library once per process.
func newBackend(cfg config.RuntimeConfig, logger *slog.Logger) (engine.Backend, error) {
	switch cfg.Backend {
	case config.BackendORT:
		info, err := ort.Bootstrap(cfg)
		if err != nil {
			return nil, fmt.Errorf("onnx runtime: %w", err)
		}
		logger.Info("onnx runtime ready", "library", info.LibraryPath, "version", info.Version, "api_version", info.APIVersion)
		return ort.NewBackend(ort.RunnerConfig{
			LibraryPath: info.LibraryPath,
			APIVersion:  info.APIVersion,
		}, logger), nil
	default:
		return engine.NewReference(engine.WithLogger(logger)), nil
	}
}

// openModel opens the configured model on the configured backend.
func openModel(ctx context.Context, cfg config.Config) (*bridge.Model, error) {
	logger := slog.Default()
	pc, err := pipelineConfig(cfg.Model)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(cfg.Runtime, logger)
	if err != nil {
		return nil, err
	}
	return bridge.Open(ctx, bridge.Options{
		Locator: cfg.Model.Path,
		Fetcher: modelFetcher(cfg.Model),
		Config:  pc,
		Backend: backend,
		Logger:  logger,
	})
}

type inputsFile struct {
	Inputs []bridge.Value `json:"inputs"`
}

// loadInputs reads host inputs from a JSON file ("-" is stdin). Without a
// path every input is zero-filled from its resolved fact.
func loadInputs(path string, stdin io.Reader, sigs []pipeline.Signature) ([]bridge.HostInput, error) {
	if path == "" {
		return bridge.ZeroInputs(sigs)
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}

	var doc inputsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode inputs %s: %w", path, err)
	}
	inputs := make([]bridge.HostInput, len(doc.Inputs))
	for i, v := range doc.Inputs {
		in, err := v.Decode()
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		inputs[i] = in
	}
	return inputs, nil
}
