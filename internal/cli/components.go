package cli

import (
	"context"

	"github.com/raphaelgruber/methodkb/internal/compile"
	"github.com/raphaelgruber/methodkb/internal/extract"
	"github.com/raphaelgruber/methodkb/internal/glossary"
	"github.com/raphaelgruber/methodkb/internal/link"
	"github.com/raphaelgruber/methodkb/internal/publish"
	"github.com/raphaelgruber/methodkb/internal/review"
)

func newCompiler() *compile.Compiler {
	return compile.New(logger)
}

// newReviewer builds a reviewer; the LLM is only created when useLLM is set.
func newReviewer(ctx context.Context, useLLM bool) (*review.Reviewer, error) {
	if !useLLM {
		return review.New(nil, logger), nil
	}
	m, err := getModel(ctx)
	if err != nil {
		return nil, err
	}
	return review.New(m, logger), nil
}

func newExtractor(ctx context.Context) (*extract.LLMExtractor, error) {
	m, err := getModel(ctx)
	if err != nil {
		return nil, err
	}
	return extract.New(m, logger), nil
}

func newPublisher(ctx context.Context) (*publish.Publisher, error) {
	s, err := getStore(ctx)
	if err != nil {
		return nil, err
	}
	return publish.New(s, publish.Options{
		Repo:    cfg.LineageRepo,
		Ref:     cfg.LineageRef,
		Timeout: cfg.DBTimeout,
	}, logger).WithRetry(retryConfig()), nil
}

func newSyncer(ctx context.Context, dir string, dryRun bool) (*glossary.Syncer, error) {
	s, err := getStore(ctx)
	if err != nil {
		return nil, err
	}
	return glossary.New(s, glossary.Options{
		Repo:    cfg.LineageRepo,
		Ref:     cfg.LineageRef,
		Dir:     dir,
		DryRun:  dryRun,
		Timeout: cfg.DBTimeout,
	}, logger).WithRetry(retryConfig()), nil
}

func newLinker(ctx context.Context) (*link.Linker, error) {
	s, err := getStore(ctx)
	if err != nil {
		return nil, err
	}
	e, err := getEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	opts := link.DefaultOptions()
	opts.Threshold = cfg.LinkThreshold
	opts.Repo = cfg.LineageRepo
	opts.Ref = cfg.LineageRef
	opts.Timeout = cfg.DBTimeout
	return link.New(s, e, opts, logger).WithRetry(retryConfig()), nil
}
