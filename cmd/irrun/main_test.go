package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/chazu/irdispatch/vm"
	"github.com/chazu/irdispatch/vm/snapshot"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		vt   api.ValueType
		want *vm.Type
	}{
		{api.ValueTypeI32, vm.I32},
		{api.ValueTypeI64, vm.I64},
		{api.ValueTypeF32, vm.Float},
		{api.ValueTypeF64, vm.Double},
	}
	for _, tt := range tests {
		got, err := typeOf(tt.vt)
		if err != nil {
			t.Fatalf("typeOf(%s): %v", api.ValueTypeName(tt.vt), err)
		}
		if got != tt.want {
			t.Errorf("typeOf(%s) = %s, want %s", api.ValueTypeName(tt.vt), got, tt.want)
		}
	}
	if _, err := typeOf(api.ValueTypeExternref); err == nil {
		t.Error("externref should be rejected")
	}
}

func TestParseArgs(t *testing.T) {
	sig := vm.Signature(vm.I64, vm.I32, vm.I64, vm.Double)
	vals, err := parseArgs(sig, []string{"0x10", " -2 ", "1.5"})
	if err != nil {
		t.Fatal(err)
	}
	if vals[0].Int() != 16 || vals[0].Width() != 32 {
		t.Errorf("arg 1 = %s, want i32 16", vals[0])
	}
	if vals[1].Int() != -2 || vals[1].Width() != 64 {
		t.Errorf("arg 2 = %s, want i64 -2", vals[1])
	}
	if vals[2].Float64() != 1.5 {
		t.Errorf("arg 3 = %s, want 1.5", vals[2])
	}

	if _, err := parseArgs(sig, []string{"1"}); err == nil {
		t.Error("expected an arity error")
	}
	if _, err := parseArgs(sig, []string{"x", "1", "1"}); err == nil {
		t.Error("expected a parse error")
	}
}

func TestWriteStats(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		statsOut: filepath.Join(dir, "s.cbor"),
		record:   filepath.Join(dir, "runs.db"),
	}
	rt := vm.NewRuntime(vm.DefaultConfig())
	snap := snapshot.FromStats("demo", rt.Stats(), time.Unix(1, 0))

	if err := writeStats(context.Background(), opts, snap); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(opts.statsOut)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := snapshot.Unmarshal(data); err != nil {
		t.Errorf("written snapshot does not decode: %v", err)
	}

	store, err := snapshot.OpenStore(opts.record)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := store.Latest(context.Background(), "demo"); err != nil {
		t.Errorf("recorded snapshot not found: %v", err)
	}
}
