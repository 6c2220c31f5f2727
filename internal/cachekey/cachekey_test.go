package cachekey

import (
	"testing"
)

func TestEncodeIsOrderIndependent(t *testing.T) {
	values := map[string]string{"b": "2", "a": "1", "c": "3"}
	display := map[string]string{"ts_hide_code": "1"}

	key := Encode("nbhtml", "my-page", values, display)
	for i := 0; i < 20; i++ {
		other := map[string]string{"c": "3", "a": "1", "b": "2"}
		if got := Encode("nbhtml", "my-page", other, display); got != key {
			t.Fatalf("key changed across encodings: %q vs %q", got, key)
		}
	}
}

func TestEncodeDistinguishesInputs(t *testing.T) {
	base := Encode("nbhtml", "p", map[string]string{"a": "1"}, map[string]string{"h": "1"})
	variants := []string{
		Encode("nbhtml", "p", map[string]string{"a": "2"}, map[string]string{"h": "1"}),
		Encode("nbhtml", "p", map[string]string{"a": "1"}, map[string]string{"h": "0"}),
		Encode("nbhtml", "q", map[string]string{"a": "1"}, map[string]string{"h": "1"}),
		Encode("noteburst", "p", map[string]string{"a": "1"}, map[string]string{"h": "1"}),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base key", i)
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	values := map[string]string{"report_date": "2025-05-01", "A": "2"}
	display := map[string]string{"ts_hide_code": "0"}
	encoded := Encode("nbhtml", "my-page", values, display)

	key, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if key.Prefix != "nbhtml" || key.PageName != "my-page" {
		t.Fatalf("unexpected key identity: %+v", key)
	}
	if key.Values["report_date"] != "2025-05-01" || key.Values["A"] != "2" {
		t.Fatalf("unexpected values: %v", key.Values)
	}
	if key.Display["ts_hide_code"] != "0" {
		t.Fatalf("unexpected display settings: %v", key.Display)
	}
}

func TestEncodeEmptyMaps(t *testing.T) {
	encoded := Encode("nbhtml", "p", nil, nil)
	key, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(key.Values) != 0 || len(key.Display) != 0 {
		t.Fatalf("expected empty maps, got %+v", key)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"nbhtml/p", "nbhtml/p/!!!/AA==", "a/b/c/d/e"} {
		if _, err := Decode(bad); err == nil {
			t.Fatalf("expected decode error for %q", bad)
		}
	}
}

func TestPagePattern(t *testing.T) {
	if got := EncodePagePattern("nbhtml", "my-page"); got != "nbhtml/my-page/*" {
		t.Fatalf("unexpected pattern: %q", got)
	}
}
