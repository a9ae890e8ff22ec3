package client

import (
	"io"
	"net/url"
	"strings"

	"noro/pkg/api"

	"github.com/gorilla/schema"
)

const (
	DefaultLength       = 100
	DefaultSeqLen       = 50
	DefaultChunkSize    = 120
	DefaultBatchSize    = 32
	DefaultEpochs       = 30
	DefaultEmbeddingDim = 128
	DefaultHiddenDim    = 256
	DefaultNumLayers    = 2
	DefaultPatience     = 3
)

type GenerationParams struct {
	Text   string
	Length int
	SeqLen int
}

// Dataset is the training file uploaded with a training request.
type Dataset struct {
	Name    string
	Size    int64
	Content io.Reader
}

// TrainingParams holds the training file and its hyperparameters. Zero
// hyperparameters are replaced by their defaults when encoded; other values are
// sent as given.
type TrainingParams struct {
	File *Dataset `schema:"-"`

	ChunkSize    int `schema:"chunk_size"`
	SeqLen       int `schema:"seq_len"`
	BatchSize    int `schema:"batch_size"`
	Epochs       int `schema:"epochs"`
	EmbeddingDim int `schema:"embedding_dim"`
	HiddenDim    int `schema:"hidden_dim"`
	NumLayers    int `schema:"num_layers"`
	Patience     int `schema:"patience"`
}

// TrainingForm is an encoded training request: the file part plus every
// hyperparameter as a decimal string field.
type TrainingForm struct {
	File   *Dataset
	Fields url.Values
}

var formEncoder = schema.NewEncoder()

func orDefault(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func EncodeGeneration(params GenerationParams) (api.GenerateRequest, error) {
	text := strings.TrimSpace(params.Text)
	if text == "" {
		return api.GenerateRequest{}, &ValidationError{Field: "text", Message: "Text cannot be empty"}
	}

	return api.GenerateRequest{
		Text:   text,
		Length: orDefault(params.Length, DefaultLength),
		SeqLen: orDefault(params.SeqLen, DefaultSeqLen),
	}, nil
}

func (p TrainingParams) withDefaults() TrainingParams {
	p.ChunkSize = orDefault(p.ChunkSize, DefaultChunkSize)
	p.SeqLen = orDefault(p.SeqLen, DefaultSeqLen)
	p.BatchSize = orDefault(p.BatchSize, DefaultBatchSize)
	p.Epochs = orDefault(p.Epochs, DefaultEpochs)
	p.EmbeddingDim = orDefault(p.EmbeddingDim, DefaultEmbeddingDim)
	p.HiddenDim = orDefault(p.HiddenDim, DefaultHiddenDim)
	p.NumLayers = orDefault(p.NumLayers, DefaultNumLayers)
	p.Patience = orDefault(p.Patience, DefaultPatience)
	return p
}

// EncodeTraining fails fast when no dataset is attached. Hyperparameters are
// not range checked here.
func EncodeTraining(params TrainingParams) (*TrainingForm, error) {
	if params.File == nil || params.File.Content == nil {
		return nil, &ValidationError{Field: api.FileField, Message: "Please select a training dataset file"}
	}

	fields := url.Values{}
	if err := formEncoder.Encode(params.withDefaults(), fields); err != nil {
		return nil, &ValidationError{Field: "hyperparameters", Message: err.Error()}
	}

	file := *params.File
	if file.Name == "" {
		file.Name = "dataset.csv"
	}

	return &TrainingForm{File: &file, Fields: fields}, nil
}
