// Package policy provides the policy capability implementations the
// trainer can be configured with. Implementations are registered under a
// name at startup; an unknown name is a configuration error reported
// before any environment is constructed.
package policy

import (
	"fmt"

	"github.com/gobaselines/ppotrain/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var registry = map[string]types.PolicyFactory{}

func Register(name string, factory types.PolicyFactory) {
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("policy: duplicate registration of %q", name))
	}
	registry[name] = factory
}

// New builds the policy registered under cfg.PolicyName.
func New(cfg *types.Config, obsSize, numActions int) (types.Policy, error) {
	factory, ok := registry[cfg.PolicyName]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q, registered: %v", cfg.PolicyName, Names())
	}
	return factory(cfg, obsSize, numActions)
}

// Names lists the registered policies in deterministic order.
func Names() []string {
	names := maps.Keys(registry)
	slices.Sort(names)
	return names
}

func init() {
	Register("softmax", NewSoftmax)
}
