package pmsadapter

import (
	"sort"
	"strings"
	"sync"
)

// Constructor builds an unauthenticated adapter from a validated config.
type Constructor func(cfg Config) (Adapter, error)

type registryEntry struct {
	constructor Constructor
	metadata    Metadata
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registryEntry{}
)

// Register maps an uppercase vendor key to a constructor. Called from
// vendor-file init functions.
func Register(vendorType string, metadata Metadata, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToUpper(vendorType)] = registryEntry{
		constructor: constructor,
		metadata:    metadata,
	}
}

// CreateAdapter builds an adapter for the vendor key. Unknown keys fail
// with UnsupportedVendorError listing the valid types.
func CreateAdapter(vendorType string, cfg Config) (Adapter, error) {
	registryMu.RLock()
	entry, ok := registry[strings.ToUpper(strings.TrimSpace(vendorType))]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnsupportedVendorError{
			VendorType: vendorType,
			Supported:  SupportedTypes(),
		}
	}
	return entry.constructor(cfg)
}

// SupportedTypes returns the registered vendor keys, sorted.
func SupportedTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for key := range registry {
		types = append(types, key)
	}
	sort.Strings(types)
	return types
}

// GetMetadata returns static metadata for a vendor key without building
// an adapter.
func GetMetadata(vendorType string) (Metadata, error) {
	registryMu.RLock()
	entry, ok := registry[strings.ToUpper(strings.TrimSpace(vendorType))]
	registryMu.RUnlock()
	if !ok {
		return Metadata{}, &UnsupportedVendorError{
			VendorType: vendorType,
			Supported:  SupportedTypes(),
		}
	}
	return entry.metadata, nil
}

// AllMetadata returns metadata for every registered vendor, sorted by key.
func AllMetadata() []Metadata {
	out := make([]Metadata, 0)
	for _, key := range SupportedTypes() {
		if meta, err := GetMetadata(key); err == nil {
			out = append(out, meta)
		}
	}
	return out
}
