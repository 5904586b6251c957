package session

import "testing"

func TestPortAllocatorRangeAllocatesDistinctPorts(t *testing.T) {
	a := newPortAllocator(0, 30000, 30010)

	conn1, port1, err := a.allocate("127.0.0.1")
	if err != nil {
		t.Fatalf("allocate() error = %v", err)
	}
	defer conn1.Close()

	conn2, port2, err := a.allocate("127.0.0.1")
	if err != nil {
		t.Fatalf("allocate() error = %v", err)
	}
	defer conn2.Close()

	if port1 == port2 {
		t.Errorf("allocate() returned the same port twice: %d", port1)
	}
}

func TestPortAllocatorReleaseAllowsReuse(t *testing.T) {
	a := newPortAllocator(0, 30020, 30020)

	conn, port, err := a.allocate("127.0.0.1")
	if err != nil {
		t.Fatalf("allocate() error = %v", err)
	}
	conn.Close()
	a.release(port)

	conn2, port2, err := a.allocate("127.0.0.1")
	if err != nil {
		t.Fatalf("allocate() after release error = %v", err)
	}
	defer conn2.Close()

	if port2 != port {
		t.Errorf("allocate() after release = %d, want reused port %d", port2, port)
	}
}

func TestPortAllocatorExhaustedRange(t *testing.T) {
	a := newPortAllocator(0, 30030, 30030)

	conn, _, err := a.allocate("127.0.0.1")
	if err != nil {
		t.Fatalf("allocate() error = %v", err)
	}
	defer conn.Close()

	if _, _, err := a.allocate("127.0.0.1"); err == nil {
		t.Error("allocate() on exhausted range, want error")
	}
}

func TestPortAllocatorFixedPort(t *testing.T) {
	a := newPortAllocator(30040, 0, 0)

	conn, port, err := a.allocate("127.0.0.1")
	if err != nil {
		t.Fatalf("allocate() error = %v", err)
	}
	defer conn.Close()

	if port != 30040 {
		t.Errorf("allocate() with fixed port = %d, want 30040", port)
	}
}
