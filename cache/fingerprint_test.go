package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestKeyGenerator_Deterministic(t *testing.T) {
	gen := NewKeyGenerator("stash:")

	cmd := &Command{
		Text: "SELECT * FROM P WHERE Id=@id",
		Params: []Param{
			{Name: "@id", Value: int64(1), DeclaredType: "bigint"},
		},
	}

	first := gen.Fingerprint(cmd)
	second := gen.Fingerprint(cmd)

	if first != second {
		t.Errorf("same command produced different fingerprints: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "stash:") {
		t.Errorf("expected prefix %q, got %q", "stash:", first)
	}
	// prefix + 64 lowercase hex chars
	hex := strings.TrimPrefix(first, "stash:")
	if len(hex) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hex))
	}
	if hex != strings.ToLower(hex) {
		t.Errorf("expected lowercase hex, got %q", hex)
	}
}

func TestKeyGenerator_Sensitivity(t *testing.T) {
	gen := NewKeyGenerator("")
	base := &Command{
		Text: "SELECT * FROM P WHERE Id=@id",
		Params: []Param{
			{Name: "@id", Value: int64(1), DeclaredType: "bigint"},
		},
	}
	baseKey := gen.Fingerprint(base)

	tests := []struct {
		name string
		cmd  *Command
	}{
		{
			name: "different text",
			cmd: &Command{
				Text:   "SELECT * FROM P WHERE Id=@id ",
				Params: base.Params,
			},
		},
		{
			name: "different parameter value",
			cmd: &Command{
				Text: base.Text,
				Params: []Param{
					{Name: "@id", Value: int64(2), DeclaredType: "bigint"},
				},
			},
		},
		{
			name: "different parameter name",
			cmd: &Command{
				Text: base.Text,
				Params: []Param{
					{Name: "@ID", Value: int64(1), DeclaredType: "bigint"},
				},
			},
		},
		{
			name: "different declared type",
			cmd: &Command{
				Text: base.Text,
				Params: []Param{
					{Name: "@id", Value: int64(1), DeclaredType: "int"},
				},
			},
		},
		{
			name: "null parameter value",
			cmd: &Command{
				Text: base.Text,
				Params: []Param{
					{Name: "@id", Value: nil, DeclaredType: "bigint"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if key := gen.Fingerprint(tt.cmd); key == baseKey {
				t.Errorf("expected distinct fingerprint, got %q for both", key)
			}
		})
	}
}

func TestKeyGenerator_ValueRendering(t *testing.T) {
	gen := NewKeyGenerator("")
	id := uuid.MustParse("a2b68d9a-0000-4000-8000-0123456789ab")
	when := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	// Each value type must produce a stable fingerprint across calls.
	cmd := &Command{
		Text: "SELECT 1",
		Params: []Param{
			{Name: "@u", Value: id, DeclaredType: "uuid"},
			{Name: "@t", Value: when, DeclaredType: "timestamp"},
			{Name: "@b", Value: []byte{0xde, 0xad}, DeclaredType: "bytea"},
			{Name: "@f", Value: 1.5, DeclaredType: "float8"},
			{Name: "@ok", Value: true, DeclaredType: "bool"},
		},
	}
	if gen.Fingerprint(cmd) != gen.Fingerprint(cmd) {
		t.Error("expected stable fingerprint for mixed-type parameters")
	}

	// A local-zone time equal to the UTC instant must render identically.
	local := &Command{
		Text: "SELECT 1",
		Params: []Param{
			{Name: "@t", Value: when.In(time.FixedZone("X", 3600)), DeclaredType: "timestamp"},
		},
	}
	utc := &Command{
		Text: "SELECT 1",
		Params: []Param{
			{Name: "@t", Value: when, DeclaredType: "timestamp"},
		},
	}
	if gen.Fingerprint(local) != gen.Fingerprint(utc) {
		t.Error("expected equal fingerprints for the same instant in different zones")
	}
}

func TestKeyGenerator_ParameterOrderMatters(t *testing.T) {
	gen := NewKeyGenerator("")
	a := &Command{
		Text: "SELECT 1",
		Params: []Param{
			{Name: "@a", Value: int64(1)},
			{Name: "@b", Value: int64(2)},
		},
	}
	b := &Command{
		Text: "SELECT 1",
		Params: []Param{
			{Name: "@b", Value: int64(2)},
			{Name: "@a", Value: int64(1)},
		},
	}
	if gen.Fingerprint(a) == gen.Fingerprint(b) {
		t.Error("expected declared parameter order to affect the fingerprint")
	}
}
