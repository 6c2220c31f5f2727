package postgres

import (
	"testing"
)

func TestParametersPersistenceRoundTrip(t *testing.T) {
	raw, err := encodeParameters(nil)
	if err != nil {
		t.Fatalf("encode empty: %v", err)
	}
	empty, err := decodeParameters(raw)
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if empty.Len() != 0 {
		t.Fatalf("expected empty parameter set, got %d", empty.Len())
	}
}

func TestParametersPersistenceKeepsOrder(t *testing.T) {
	first, err := decodeParameters([]byte(`{
		"order": ["zeta", "alpha"],
		"schemas": {
			"zeta": {"type": "string", "default": "z"},
			"alpha": {"type": "string", "default": "a"}
		}
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if names := first.Names(); names[0] != "zeta" || names[1] != "alpha" {
		t.Fatalf("declaration order lost: %v", names)
	}

	raw, err := encodeParameters(first)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	second, err := decodeParameters(raw)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if names := second.Names(); names[0] != "zeta" || names[1] != "alpha" {
		t.Fatalf("order lost in round trip: %v", names)
	}
}

func TestParametersPersistenceRejectsBrokenSchemas(t *testing.T) {
	_, err := decodeParameters([]byte(`{
		"order": ["a"],
		"schemas": {"a": {"type": "array", "default": []}}
	}`))
	if err == nil {
		t.Fatal("expected decode error for unsupported schema")
	}
}
