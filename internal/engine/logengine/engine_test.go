package logengine

import (
	"fmt"
	"testing"

	"github.com/launix-de/kvs/internal/engine"
)

func openTemp(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.CloseWriter() })
	return e
}

func TestSetThenGet(t *testing.T) {
	e := openTemp(t)
	if err := e.Set("a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := e.Get("a")
	if err != nil || !ok || v != "1" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
}

func TestOverwrite(t *testing.T) {
	e := openTemp(t)
	if err := e.Set("a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Set("a", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, _ := e.Get("a")
	if !ok || v != "2" {
		t.Fatalf("Get = %q, %v, want 2/true", v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	e := openTemp(t)
	_, ok, err := e.Get("missing")
	if err != nil || ok {
		t.Fatalf("Get missing = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestRemove(t *testing.T) {
	e := openTemp(t)
	if err := e.Set("a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	_, ok, _ := e.Get("a")
	if ok {
		t.Fatalf("key still present after Remove")
	}
}

func TestRemoveMissingKey(t *testing.T) {
	e := openTemp(t)
	err := e.Remove("missing")
	var kerr *engine.Error
	if err == nil {
		t.Fatalf("Remove of missing key returned nil error")
	}
	if !asEngineError(err, &kerr) || kerr.Kind != engine.KeyNotFound {
		t.Fatalf("Remove missing = %v, want KeyNotFound", err)
	}
}

func asEngineError(err error, target **engine.Error) bool {
	e, ok := err.(*engine.Error)
	if ok {
		*target = e
	}
	return ok
}

func TestDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Set("a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Set("b", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := e.CloseWriter(); err != nil {
		t.Fatalf("CloseWriter: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.CloseWriter()

	if _, ok, _ := reopened.Get("a"); ok {
		t.Fatalf("removed key reappeared after reopen")
	}
	v, ok, _ := reopened.Get("b")
	if !ok || v != "2" {
		t.Fatalf("Get(b) after reopen = %q, %v, want 2/true", v, ok)
	}
}

func TestCompactionReclaimsStaleBytes(t *testing.T) {
	e := openTemp(t, WithCompactionThreshold(256))
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i%5)
		if err := e.Set(key, fmt.Sprintf("value-%d", i)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	if e.writer.staleBytes != 0 {
		t.Fatalf("staleBytes = %d after compaction should run, want 0", e.writer.staleBytes)
	}
	if e.Len() != 5 {
		t.Fatalf("Len = %d, want 5 live keys", e.Len())
	}
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key-%d", i)
		if _, ok, _ := e.Get(key); !ok {
			t.Fatalf("key %q missing after compaction", key)
		}
	}
}

func TestCloneSharesStateAcrossReaders(t *testing.T) {
	e := openTemp(t)
	if err := e.Set("a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	clone := e.Clone()
	defer clone.Close()

	v, ok, err := clone.Get("a")
	if err != nil || !ok || v != "1" {
		t.Fatalf("clone Get = %q, %v, %v", v, ok, err)
	}

	if err := e.Set("b", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err = clone.Get("b")
	if err != nil || !ok || v != "2" {
		t.Fatalf("clone Get after sibling Set = %q, %v, %v", v, ok, err)
	}
}

func TestConcurrentDisjointKeys(t *testing.T) {
	e := openTemp(t)
	const n = 50
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			key := fmt.Sprintf("k%d", i)
			done <- e.Set(key, "v")
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Set: %v", err)
		}
	}
	if e.Len() != n {
		t.Fatalf("Len = %d, want %d", e.Len(), n)
	}
}
