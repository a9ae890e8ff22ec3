package tasks

import (
	"context"

	"noro/internal/client"
	"noro/pkg/api"
)

// Backend is the transport the task lifecycles send their requests through.
type Backend interface {
	Generate(ctx context.Context, req api.GenerateRequest) (api.GenerateResponse, error)

	Train(ctx context.Context, form *client.TrainingForm) (api.TrainingResponse, error)
}

type (
	GenerationTask = Lifecycle[client.GenerationParams, api.GenerateResponse]
	TrainingTask   = Lifecycle[client.TrainingParams, api.TrainingResponse]
)

func NewGenerationTask(backend Backend) *GenerationTask {
	prepare := func(params client.GenerationParams) (Call[api.GenerateResponse], error) {
		req, err := client.EncodeGeneration(params)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (api.GenerateResponse, error) {
			return backend.Generate(ctx, req)
		}, nil
	}
	return NewLifecycle[client.GenerationParams, api.GenerateResponse](Generation, prepare, nil)
}

func NewTrainingTask(backend Backend, simulator *ProgressSimulator) *TrainingTask {
	prepare := func(params client.TrainingParams) (Call[api.TrainingResponse], error) {
		form, err := client.EncodeTraining(params)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (api.TrainingResponse, error) {
			return backend.Train(ctx, form)
		}, nil
	}
	return NewLifecycle[client.TrainingParams, api.TrainingResponse](Training, prepare, simulator)
}

// Session holds the single lifecycle of each task kind for one client. It is
// created once and handed to the rendering layer.
type Session struct {
	Generation *GenerationTask
	Training   *TrainingTask
}

func NewSession(backend Backend, simulator *ProgressSimulator) *Session {
	if simulator == nil {
		simulator = NewProgressSimulator(DefaultProgressInterval)
	}
	return &Session{
		Generation: NewGenerationTask(backend),
		Training:   NewTrainingTask(backend, simulator),
	}
}
