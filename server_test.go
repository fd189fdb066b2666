package astyled

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

// mockHandler implements Handler interface for testing
type mockHandler struct {
	mu       sync.Mutex
	conns    []net.Conn
	handleCh chan net.Conn
	block    chan struct{} // when set, Handle waits for it or ctx
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		conns:    make([]net.Conn, 0),
		handleCh: make(chan net.Conn, 10),
	}
}

func (h *mockHandler) Handle(ctx context.Context, conn net.Conn) {
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()

	select {
	case h.handleCh <- conn:
	default:
	}

	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
		}
	}
	conn.Close()
}

func (h *mockHandler) getConns() []net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return server
}

func dialServer(t *testing.T, server *Server) *net.TCPConn {
	t.Helper()
	conn, err := net.DialTCP("tcp", nil, server.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	return conn
}

func TestNew(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	if server.listener == nil {
		t.Error("listener is nil")
	}
	if server.maxConns != defaultMaxConns {
		t.Errorf("maxConns = %d, want %d", server.maxConns, defaultMaxConns)
	}
}

func TestNew_InvalidAddr(t *testing.T) {
	server1 := newTestServer(t)
	defer server1.Close()

	// Try to listen on the same port - should fail
	occupiedAddr := server1.listener.Addr().(*net.TCPAddr)
	if _, err := New(occupiedAddr); err == nil {
		t.Error("expected error for occupied port")
	}
}

func TestServerOptions(t *testing.T) {
	logger := &mockLogger{}
	server := newTestServer(t,
		ServerLoggerOption(logger),
		ServerShutdownTimeoutOption(time.Second),
		ServerMaxConnsOption(3),
	)
	defer server.Close()

	if server.logger != logger {
		t.Error("logger not set")
	}
	if server.shutdownTimeout != time.Second {
		t.Errorf("shutdownTimeout = %v, want 1s", server.shutdownTimeout)
	}
	if server.maxConns != 3 {
		t.Errorf("maxConns = %d, want 3", server.maxConns)
	}
}

func TestServer_Close(t *testing.T) {
	server := newTestServer(t)

	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	// Verify listener is closed by trying to accept
	if _, err := server.listener.AcceptTCP(); err == nil {
		t.Error("expected error after close")
	}
}

func TestServer_Serve(t *testing.T) {
	server := newTestServer(t)

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	clientConn := dialServer(t, server)
	defer clientConn.Close()

	select {
	case conn := <-handler.handleCh:
		if conn == nil {
			t.Error("handler received nil connection")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_Serve_MultipleConnections(t *testing.T) {
	server := newTestServer(t)

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, handler)

	numClients := 5
	clients := make([]*net.TCPConn, numClients)
	for i := 0; i < numClients; i++ {
		clients[i] = dialServer(t, server)
	}

	for i := 0; i < numClients; i++ {
		select {
		case <-handler.handleCh:
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for handler %d", i)
		}
	}

	for _, conn := range clients {
		conn.Close()
	}

	if conns := handler.getConns(); len(conns) != numClients {
		t.Errorf("handler received %d connections, want %d", len(conns), numClients)
	}
}

func TestServer_Serve_MaxConns(t *testing.T) {
	server := newTestServer(t, ServerMaxConnsOption(1))

	handler := newMockHandler()
	handler.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, handler)

	first := dialServer(t, server)
	defer first.Close()
	second := dialServer(t, server)
	defer second.Close()

	select {
	case <-handler.handleCh:
	case <-time.After(5 * time.Second):
		t.Fatal("first connection not handled")
	}

	// The second connection must wait for the first handler to finish
	select {
	case <-handler.handleCh:
		t.Fatal("second connection handled while the limit was reached")
	case <-time.After(100 * time.Millisecond):
	}

	close(handler.block)

	select {
	case <-handler.handleCh:
	case <-time.After(5 * time.Second):
		t.Fatal("second connection not handled after the first finished")
	}
}

func TestServer_Serve_CancelWhileAtMaxConns(t *testing.T) {
	server := newTestServer(t, ServerMaxConnsOption(1))
	defer server.Close()

	handler := newMockHandler()
	handler.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	first := dialServer(t, server)
	defer first.Close()

	select {
	case <-handler.handleCh:
	case <-time.After(5 * time.Second):
		t.Fatal("first connection not handled")
	}

	// accepted but waiting for a handler slot
	second := dialServer(t, server)
	defer second.Close()
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve blocked on the connection limit after cancel")
	}

	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err == nil {
		t.Error("waiting connection was not closed")
	}
	if n := len(handler.getConns()); n != 1 {
		t.Errorf("handler received %d connections, want 1", n)
	}
}

func TestServer_Serve_DrainsInFlight(t *testing.T) {
	server := newTestServer(t, ServerShutdownTimeoutOption(5*time.Second))

	handler := newMockHandler()
	handler.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	clientConn := dialServer(t, server)
	defer clientConn.Close()

	select {
	case <-handler.handleCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	cancel()

	// Serve waits for the in-flight handler
	select {
	case <-done:
		t.Fatal("Serve returned before the in-flight handler finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(handler.block)

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_Serve_CloseCancelsInFlight(t *testing.T) {
	server := newTestServer(t, ServerShutdownTimeoutOption(time.Minute))

	handler := newMockHandler()
	handler.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(context.Background(), handler)
	}()

	clientConn := dialServer(t, server)
	defer clientConn.Close()

	select {
	case <-handler.handleCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil after Close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the in-flight handler")
	}
}

func TestServer_Serve_ContextCanceled(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, newMockHandler())
	}()

	time.Sleep(time.Millisecond * 50)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_EndToEnd(t *testing.T) {
	server := newTestServer(t)

	handler, err := NewHandler(TransformerOption(upperTransformer))
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, handler)

	client := NewClient(server.Addr().String())
	client.Timeout = 5 * time.Second

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := client.Format(context.Background(), []byte("hello"), map[string]string{"mode": "c"})
			if err != nil {
				t.Errorf("Format failed: %v", err)
				return
			}
			if string(out) != "HELLO" {
				t.Errorf("Format = %q, want HELLO", out)
			}
		}()
	}
	wg.Wait()
}
