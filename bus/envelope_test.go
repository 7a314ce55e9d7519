package bus

import "testing"

func TestEnvelopeInitRefCountAndRelease(t *testing.T) {
	p := NewPool(&Config{HardCap: 2, InitialSoftCap: 2}, nil)
	e, _ := p.Alloc()
	e.InitRefCount(3)
	if rc := e.RefCount(); rc != 3 {
		t.Fatalf("RefCount() = %d, want 3", rc)
	}
	e.Release()
	e.Release()
	if stat := p.Stat(); stat.InUse != 1 {
		t.Fatalf("InUse after two of three releases = %d, want 1", stat.InUse)
	}
	e.Release()
	if stat := p.Stat(); stat.InUse != 0 {
		t.Fatalf("InUse after final release = %d, want 0", stat.InUse)
	}
}

func TestEnvelopeDoubleReleaseIsNoOp(t *testing.T) {
	p := NewPool(&Config{HardCap: 1, InitialSoftCap: 1}, nil)
	e, _ := p.Alloc()
	e.InitRefCount(1)
	e.Release()
	e.Release() // must not panic or drive refcount negative / double-free the slot
	if stat := p.Stat(); stat.InUse != 0 {
		t.Fatalf("InUse after double release = %d, want 0", stat.InUse)
	}
}

func TestEnvelopeFieldsResetOnAlloc(t *testing.T) {
	p := NewPool(&Config{HardCap: 1, InitialSoftCap: 1}, nil)
	e, _ := p.Alloc()
	e.Kind, e.Source, e.Topic, e.Arg = 1, 2, 3, 4
	e.InitRefCount(1)
	e.Release()

	e2, ok := p.Alloc()
	if !ok {
		t.Fatal("Alloc() after release ok=false")
	}
	if e2.Kind != 0 || e2.Source != 0 || e2.Topic != 0 || e2.Arg != 0 {
		t.Fatalf("reused envelope fields not reset: %+v", e2)
	}
}
