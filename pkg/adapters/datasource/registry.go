package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/config"
)

// Factory opens an adapter for one datasource type.
type Factory func(ctx context.Context, cfg *config.DatasourceConfig, logger *zap.Logger) (*Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an adapter factory available under the given type name.
// Adapters call this from init; duplicate registrations panic.
func Register(typeName string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[typeName]; exists {
		panic(fmt.Sprintf("datasource: adapter %q registered twice", typeName))
	}
	registry[typeName] = factory
}

// Open connects to the configured datasource using the registered adapter
// for cfg.Type.
func Open(ctx context.Context, cfg *config.DatasourceConfig, logger *zap.Logger) (*Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported datasource type %q (registered: %s)", cfg.Type, strings.Join(RegisteredTypes(), ", "))
	}
	return factory(ctx, cfg, logger)
}

// RegisteredTypes returns the sorted names of all registered adapters.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
