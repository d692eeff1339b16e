package scroll

import "github.com/harvestman-flow/harvestman/pkg/container"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "scroll"
}

func (f *Factory) Create(params map[string]any) (container.Behavior, error) {
	return NewBehavior(params), nil
}
