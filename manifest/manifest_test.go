package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/irdispatch/vm"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with an irdispatch.toml
	dir := t.TempDir()
	tomlContent := `
[program]
name = "demo"
entry = "mathlib.add"

[engine]
inline-cache-size = 3
exception-model = "seh"
stack-size = 65536
max-call-depth = 128
image-base = 0x140000000

[log]
verbosity = 2
path = "irrun.log"

[[native]]
name = "mathlib"
path = "lib/math.wasm"
base = 0x20000

[[native]]
name = "strlib"
path = "/opt/str.wasm"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Program.Name != "demo" {
		t.Errorf("program name = %q, want demo", m.Program.Name)
	}
	if m.Program.Entry != "mathlib.add" {
		t.Errorf("program entry = %q, want mathlib.add", m.Program.Entry)
	}
	if m.Engine.InlineCacheSize != 3 {
		t.Errorf("inline-cache-size = %d, want 3", m.Engine.InlineCacheSize)
	}
	if m.Log.Verbosity != 2 || m.Log.Path != "irrun.log" {
		t.Errorf("log = %+v, want verbosity 2 path irrun.log", m.Log)
	}
	if len(m.Native) != 2 {
		t.Fatalf("native count = %d, want 2", len(m.Native))
	}
	if m.Native[0].Base != 0x20000 {
		t.Errorf("native[0] base = 0x%x, want 0x20000", m.Native[0].Base)
	}
	if m.Native[1].Base != 0x30000 {
		t.Errorf("native[1] base = 0x%x, want 0x30000", m.Native[1].Base)
	}
	if got := m.NativePath(m.Native[0]); got != filepath.Join(m.Dir, "lib/math.wasm") {
		t.Errorf("native[0] path = %q", got)
	}
	if got := m.NativePath(m.Native[1]); got != "/opt/str.wasm" {
		t.Errorf("native[1] path = %q, want /opt/str.wasm", got)
	}

	cfg, err := m.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig failed: %v", err)
	}
	if cfg.ExceptionModel != vm.SEHModel {
		t.Errorf("exception model = %s, want seh", cfg.ExceptionModel)
	}
	if cfg.InlineCacheSize != 3 {
		t.Errorf("inline cache size = %d, want 3", cfg.InlineCacheSize)
	}
	if cfg.StackSize != 65536 {
		t.Errorf("stack size = %d, want 65536", cfg.StackSize)
	}
	if cfg.MaxCallDepth != 128 {
		t.Errorf("max call depth = %d, want 128", cfg.MaxCallDepth)
	}
	if cfg.ImageBase != 0x140000000 {
		t.Errorf("image base = 0x%x, want 0x140000000", cfg.ImageBase)
	}
	if cfg.HandleBase != vm.DefaultConfig().HandleBase {
		t.Errorf("handle base = 0x%x, want default", cfg.HandleBase)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	m, err := Parse([]byte(`[program]
name = "minimal"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Engine.InlineCacheSize != vm.DefaultInlineCacheSize {
		t.Errorf("default inline-cache-size = %d, want %d", m.Engine.InlineCacheSize, vm.DefaultInlineCacheSize)
	}
	if m.Engine.ExceptionModel != "itanium" {
		t.Errorf("default exception-model = %q, want itanium", m.Engine.ExceptionModel)
	}

	cfg, err := m.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig failed: %v", err)
	}
	if cfg != vm.DefaultConfig() {
		t.Errorf("config = %+v, want defaults", cfg)
	}
}

func TestUnknownExceptionModel(t *testing.T) {
	m, err := Parse([]byte(`[engine]
exception-model = "dwarf"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := m.EngineConfig(); err == nil {
		t.Error("expected error for unknown exception model")
	}
}

func TestNativeWithoutName(t *testing.T) {
	_, err := Parse([]byte(`[[native]]
path = "a.wasm"
`))
	if err == nil {
		t.Error("expected error for unnamed native module")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[engine\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested dirs: root/irdispatch.toml, root/sub/deep/
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[program]\nname = \"found\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	deep := filepath.Join(root, "sub", "deep")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(deep)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Program.Name != "found" {
		t.Errorf("program name = %q, want found", m.Program.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no irdispatch.toml exists")
	}
}
