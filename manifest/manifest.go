// Package manifest handles irdispatch.toml program configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/irdispatch/vm"
)

// FileName is the manifest file looked up in a program directory.
const FileName = "irdispatch.toml"

// Manifest represents an irdispatch.toml configuration.
type Manifest struct {
	Program Program  `toml:"program"`
	Engine  Engine   `toml:"engine"`
	Log     Log      `toml:"log"`
	Native  []Native `toml:"native"`

	// Dir is the directory containing the irdispatch.toml file (set at load time).
	Dir string `toml:"-"`
}

// Program contains program metadata.
type Program struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"` // "module.export" called by irrun
}

// Engine configures the dispatch engine.
type Engine struct {
	InlineCacheSize int    `toml:"inline-cache-size"`
	ExceptionModel  string `toml:"exception-model"`
	StackSize       uint64 `toml:"stack-size"`
	MaxCallDepth    int    `toml:"max-call-depth"`
	HandleBase      uint64 `toml:"handle-base"`
	ImageBase       uint64 `toml:"image-base"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Native is a WebAssembly module providing native symbols.
type Native struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
	Base uint64 `toml:"base"` // first symbol address
}

// Load parses the irdispatch.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text and applies defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	// Defaults
	if m.Engine.InlineCacheSize == 0 {
		m.Engine.InlineCacheSize = vm.DefaultInlineCacheSize
	}
	if m.Engine.ExceptionModel == "" {
		m.Engine.ExceptionModel = vm.ItaniumModel.String()
	}
	var next uint64 = 0x1_0000
	for i := range m.Native {
		n := &m.Native[i]
		if n.Name == "" {
			return nil, fmt.Errorf("native module %d has no name", i)
		}
		if n.Base == 0 {
			n.Base = next
		}
		next = n.Base + 0x1_0000
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an irdispatch.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EngineConfig derives the engine configuration, starting from
// vm.DefaultConfig.
func (m *Manifest) EngineConfig() (vm.Config, error) {
	cfg := vm.DefaultConfig()
	model, err := vm.ParseExceptionModel(m.Engine.ExceptionModel)
	if err != nil {
		return cfg, err
	}
	cfg.ExceptionModel = model
	if m.Engine.InlineCacheSize < 0 {
		return cfg, fmt.Errorf("inline-cache-size must be positive, got %d", m.Engine.InlineCacheSize)
	}
	if m.Engine.InlineCacheSize > 0 {
		cfg.InlineCacheSize = m.Engine.InlineCacheSize
	}
	if m.Engine.StackSize > 0 {
		cfg.StackSize = m.Engine.StackSize
	}
	if m.Engine.MaxCallDepth > 0 {
		cfg.MaxCallDepth = m.Engine.MaxCallDepth
	}
	if m.Engine.HandleBase > 0 {
		cfg.HandleBase = m.Engine.HandleBase
	}
	if m.Engine.ImageBase > 0 {
		cfg.ImageBase = m.Engine.ImageBase
	}
	return cfg, nil
}

// NativePath returns the absolute path of a native module.
func (m *Manifest) NativePath(n Native) string {
	if filepath.IsAbs(n.Path) {
		return n.Path
	}
	return filepath.Join(m.Dir, n.Path)
}
