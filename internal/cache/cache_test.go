package cache

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cinder-lang/cinder/pkg/bytecode"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMissThenHit(t *testing.T) {
	store := openStore(t)
	source := []byte(`print "cached";`)

	heap := bytecode.NewHeap()
	if _, ok := store.Load(heap, source); ok {
		t.Fatal("empty cache should miss")
	}

	fn, err := bytecode.Compile(heap, string(source))
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if err := store.Store(heap, source, fn); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	fresh := bytecode.NewHeap()
	cached, ok := store.Load(fresh, source)
	if !ok {
		t.Fatal("expected a hit after store")
	}

	vm := bytecode.NewVM(fresh)
	var out bytes.Buffer
	vm.SetOutput(&out)
	vm.SetErrorOutput(&out)
	if err := vm.RunFunction(cached); err != nil {
		t.Fatalf("cached script failed: %v", err)
	}
	if out.String() != "cached\n" {
		t.Errorf("expected output from cached script, got %q", out.String())
	}
}

func TestKeyDistinguishesSources(t *testing.T) {
	if Key([]byte("print 1;")) == Key([]byte("print 2;")) {
		t.Error("different sources must hash differently")
	}
	if Key([]byte("same")) != Key([]byte("same")) {
		t.Error("identical sources must hash identically")
	}
}

func TestCorruptRowIsAMiss(t *testing.T) {
	store := openStore(t)
	source := []byte("print 1;")

	key := Key(source)
	if _, err := store.db.Exec(
		`INSERT INTO scripts (hash, snapshot) VALUES (?, ?)`, key, []byte("garbage")); err != nil {
		t.Fatal(err)
	}

	heap := bytecode.NewHeap()
	if _, ok := store.Load(heap, source); ok {
		t.Fatal("corrupt row must be treated as a miss")
	}

	// The row is dropped, so a fresh store succeeds.
	fn, err := bytecode.Compile(heap, string(source))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Store(heap, source, fn); err != nil {
		t.Fatalf("store after corrupt drop failed: %v", err)
	}
	if _, ok := store.Load(bytecode.NewHeap(), source); !ok {
		t.Error("expected a hit after recompiling")
	}
}
