package canonical

import (
	"strings"
	"testing"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 0, "y": 1}})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"a":2,"b":1,"c":{"y":1,"z":0}}`
	if string(out) != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]any{"s": "<a>&</a>"})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if !strings.Contains(string(out), `<a>&</a>`) {
		t.Fatalf("expected raw angle brackets and ampersand, got %s", out)
	}
	if strings.Contains(string(out), `\u003c`) {
		t.Fatalf("expected no escaped angle brackets, got %s", out)
	}
}

func TestHashDeterministic(t *testing.T) {
	v := map[string]any{"x": []any{1, "two", 3.0}, "y": nil}
	h1, err := Hash(v)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	h2, _ := Hash(v)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64-char hex SHA-256, got %d chars", len(h1))
	}
}

func TestHashKeyOrderIndependent(t *testing.T) {
	h1, _ := Hash(map[string]any{"a": 1, "b": 2})
	h2, _ := Hash(map[string]any{"b": 2, "a": 1})
	if h1 != h2 {
		t.Fatal("canonical hash must not depend on map key order")
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	if got := MerkleRoot(nil); got != "" {
		t.Fatalf("expected empty root for no leaves, got %q", got)
	}
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := HashString("only")
	if got := MerkleRoot([]string{leaf}); got != leaf {
		t.Fatalf("single leaf should be its own root, got %q", got)
	}
}

func TestMerkleRootOddLeaves(t *testing.T) {
	leaves := []string{HashString("a"), HashString("b"), HashString("c")}
	root := MerkleRoot(leaves)
	if root == "" || root == leaves[0] {
		t.Fatalf("unexpected root %q", root)
	}
	// Deterministic across calls.
	if root != MerkleRoot(leaves) {
		t.Fatal("root not deterministic")
	}
	// Order sensitivity: swapping leaves changes the root.
	swapped := []string{leaves[1], leaves[0], leaves[2]}
	if root == MerkleRoot(swapped) {
		t.Fatal("root should depend on leaf order")
	}
}

func TestMerkleRootDistinctFromLeafHash(t *testing.T) {
	// The 0x01 domain separator means an internal node can never equal a
	// plain pair concatenation hash.
	a, b := HashString("a"), HashString("b")
	root := MerkleRoot([]string{a, b})
	if root == HashString(a+b) {
		t.Fatal("internal node hash must be domain-separated from leaf hashing")
	}
}
