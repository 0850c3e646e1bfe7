package pipeline

import (
	"context"

	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/llm"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Statement *domain.Statement
	PDF       []byte

	Path         ExtractionPath
	Input        llm.Input
	Parsed       *domain.ParsedStatement
	Transactions []domain.Transaction
	Dropped      int
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first error,
// which is returned as a *StepError.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: i + 1, Name: step.Name(), Err: err}
		}
		if err := step.Execute(ctx, state); err != nil {
			return &StepError{Step: i + 1, Name: step.Name(), Err: err}
		}
	}
	return nil
}
