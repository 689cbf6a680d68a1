package util

import (
	"strings"
	"testing"
)

func TestGenIDLengthAndAlphabet(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id, err := GenID()
		if err != nil {
			t.Fatal(err)
		}
		if len(id) != IDLength {
			t.Fatalf("expected length %d, got %d (%q)", IDLength, len(id), id)
		}
		for _, c := range id {
			if !strings.ContainsRune(idAlphabet, c) {
				t.Fatalf("id %q contains %q outside alphabet", id, c)
			}
		}
	}
}

func TestGenIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := GenID()
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = struct{}{}
	}
}
