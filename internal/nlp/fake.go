package nlp

import "context"

// Fake is an in-memory Port used by pipeline tests in place of a live NLP
// adapter.
type Fake struct {
	EntitiesByText   map[string][]Entity
	CategoriesByText map[string][]Category
	RateLimitErr     *RateLimited
	InvalidArgs      map[string]bool
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{
		EntitiesByText:   make(map[string][]Entity),
		CategoriesByText: make(map[string][]Category),
		InvalidArgs:      make(map[string]bool),
	}
}

// AnalyzeEntities returns the fake's canned entities for text.
func (f *Fake) AnalyzeEntities(ctx context.Context, text string) ([]Entity, error) {
	if f.RateLimitErr != nil {
		return nil, f.RateLimitErr
	}
	return f.EntitiesByText[text], nil
}

// ClassifyText returns the fake's canned categories for text, or
// InvalidArgument if text was marked as such.
func (f *Fake) ClassifyText(ctx context.Context, text string) ([]Category, error) {
	if f.RateLimitErr != nil {
		return nil, f.RateLimitErr
	}
	if f.InvalidArgs[text] {
		return nil, &InvalidArgument{Reason: "unclassifiable text"}
	}
	return f.CategoriesByText[text], nil
}

var _ Port = (*Fake)(nil)
