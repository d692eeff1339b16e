package protocol

import (
	"github.com/harvestman-flow/harvestman/pkg/container"
)

// BehaviorFactory builds container behaviors from task or plan parameters.
// Implemented by built-in behaviors and by .so plugins exposing a `Behavior`
// symbol.
type BehaviorFactory interface {
	// Create instantiates a behavior from its parameter map.
	Create(params map[string]any) (container.Behavior, error)

	// ID is the behavior type key container tasks reference via target.
	ID() string
}
