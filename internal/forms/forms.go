// Package forms holds the input checks and presets the rendering layer applies
// before handing parameters to a task lifecycle.
package forms

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"noro/internal/client"
)

const MaxTextLength = 1000

var (
	ErrEmptyText      = errors.New("Text cannot be empty")
	ErrTextTooLong    = fmt.Errorf("Text is too long (max %d characters)", MaxTextLength)
	ErrInvalidDataset = errors.New("Please select a valid CSV or Excel file (.csv, .xlsx, .xls)")
	ErrUnknownPreset  = errors.New("unknown model size, expected small, medium or large")
	datasetExtensions = []string{".csv", ".xlsx", ".xls"}
)

func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}

// ValidateDatasetName accepts CSV and Excel files by extension.
func ValidateDatasetName(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range datasetExtensions {
		if ext == allowed {
			return nil
		}
	}
	return ErrInvalidDataset
}

type ModelSize string

const (
	Small  ModelSize = "small"
	Medium ModelSize = "medium"
	Large  ModelSize = "large"
)

// TrainingPreset returns hyperparameters for a model size. Fields it does not
// set are left to the encoder defaults.
func TrainingPreset(size ModelSize) (client.TrainingParams, error) {
	switch size {
	case Small:
		return client.TrainingParams{EmbeddingDim: 64, HiddenDim: 128, NumLayers: 1, BatchSize: 16, Epochs: 20}, nil
	case Medium, "":
		return client.TrainingParams{EmbeddingDim: 128, HiddenDim: 256, NumLayers: 2, BatchSize: 32, Epochs: 30}, nil
	case Large:
		return client.TrainingParams{EmbeddingDim: 256, HiddenDim: 512, NumLayers: 3, BatchSize: 64, Epochs: 50}, nil
	default:
		return client.TrainingParams{}, ErrUnknownPreset
	}
}

// EstimateTrainingTime is a rough guide for the user: half a minute per epoch
// for every thousand rows, and at least a minute per epoch.
func EstimateTrainingTime(epochs, rows int) string {
	minutesPerEpoch := math.Max(1, math.Ceil(float64(rows)/1000)*0.5)
	total := int(math.Ceil(float64(epochs) * minutesPerEpoch))

	if total < 60 {
		return fmt.Sprintf("~%d minutes", total)
	}
	return fmt.Sprintf("~%dh %dm", total/60, total%60)
}
