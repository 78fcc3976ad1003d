package profile

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"
)

//go:embed profiles/*.yaml
var builtinFS embed.FS

var (
	builtinMu    sync.RWMutex
	builtinCache = make(map[string][]byte)
)

// Builtin parses the embedded profile with the given name (e.g. "q35").
// Each call returns a fresh Profile.
func Builtin(name string) (*Profile, error) {
	builtinMu.RLock()
	data, ok := builtinCache[name]
	builtinMu.RUnlock()

	if !ok {
		var err error
		data, err = builtinFS.ReadFile("profiles/" + name + ".yaml")
		if err != nil {
			return nil, fmt.Errorf("builtin profile %q not found: %w", name, err)
		}
		builtinMu.Lock()
		builtinCache[name] = data
		builtinMu.Unlock()
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("builtin profile %q: %w", name, err)
	}
	return p, nil
}

// BuiltinNames returns the names of all embedded profiles, sorted.
func BuiltinNames() ([]string, error) {
	entries, err := builtinFS.ReadDir("profiles")
	if err != nil {
		return nil, fmt.Errorf("reading profiles directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if name := e.Name(); strings.HasSuffix(name, ".yaml") {
			names = append(names, strings.TrimSuffix(name, ".yaml"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Resolve loads a profile by builtin name or file path. Arguments that
// look like paths are always read from disk.
func Resolve(ref string) (*Profile, error) {
	if ref == "" {
		return Default(), nil
	}
	if !strings.ContainsAny(ref, `/\`) && !strings.HasSuffix(ref, ".yaml") && !strings.HasSuffix(ref, ".yml") {
		return Builtin(ref)
	}
	return Load(ref)
}
