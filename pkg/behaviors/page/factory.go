package page

import (
	"errors"

	"github.com/harvestman-flow/harvestman/pkg/container"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "page"
}

func (f *Factory) Create(params map[string]any) (container.Behavior, error) {
	b := NewBehavior(params)
	if b.URL == "" {
		return nil, errors.New("page behavior requires a url parameter")
	}

	return b, nil
}
