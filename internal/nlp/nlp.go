// Package nlp is the NLP port: the abstract boundary between the pipeline
// and the external entity-extraction and text-classification service.
package nlp

import "context"

// Entity is a single extracted entity.
type Entity struct {
	Name string
	Type int16
}

// Category is a single classification result with its confidence score.
type Category struct {
	Name       string
	Confidence float64
}

// Port is the abstract NLP surface the entity and classify workers call
// into. The concrete adapter lives in HTTPClient; tests use Fake.
type Port interface {
	// AnalyzeEntities extracts named entities from text.
	AnalyzeEntities(ctx context.Context, text string) ([]Entity, error)

	// ClassifyText assigns zero or more topic categories to text.
	ClassifyText(ctx context.Context, text string) ([]Category, error)
}
