package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestParseRequestRequiresPIDAndUser(t *testing.T) {
	_, err := parseRequest([]byte("proc.nice=-5\n"))
	if err == nil {
		t.Fatal("expected missing request.pid to fail")
	}

	_, err = parseRequest([]byte("request.pid=123\n"))
	if err == nil {
		t.Fatal("expected missing request.user to fail")
	}
}

func TestParseRequestCollectsFields(t *testing.T) {
	req, err := parseRequest([]byte("request.pid=4242\nrequest.user=gamer\nproc.nice=-10\ncpu.performance\n"))
	if err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	if req.PID != 4242 {
		t.Fatalf("expected pid 4242, got %d", req.PID)
	}
	if req.User != "gamer" {
		t.Fatalf("expected user gamer, got %q", req.User)
	}
	if req.Fields["proc.nice"] != "-10" {
		t.Fatalf("expected proc.nice=-10 preserved in fields, got %q", req.Fields["proc.nice"])
	}
	if v, ok := req.Fields["cpu.performance"]; !ok || v != "" {
		t.Fatalf("expected bare key cpu.performance preserved as boolean-shaped field, got %q (present=%v)", v, ok)
	}
}

func TestServerRoundTripsPlaintextRequest(t *testing.T) {
	received := make(chan Request, 1)
	srv, err := Listen(Config{
		Port: 0,
		Handler: func(ctx context.Context, req Request, remoteAddr string) error {
			received <- req
			return nil
		},
	}, testEntry())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("tcp", srv.ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := conn.Write([]byte("request.pid=99\nrequest.user=alice\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.(*net.TCPConn).CloseWrite()

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read ack: %v", err)
	}
	if string(buf[:n]) != "OK\n" {
		t.Fatalf("expected OK ack, got %q", buf[:n])
	}
	conn.Close()

	select {
	case req := <-received:
		if req.PID != 99 || req.User != "alice" {
			t.Fatalf("unexpected request delivered to handler: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestServerRejectsUnauthorizedUser(t *testing.T) {
	srv, err := Listen(Config{
		Port:         0,
		AllowedUsers: map[string]struct{}{"alice": {}},
		Handler: func(ctx context.Context, req Request, remoteAddr string) error {
			return nil
		},
	}, testEntry())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("tcp", srv.ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Write([]byte("request.pid=1\nrequest.user=mallory\n"))
	conn.(*net.TCPConn).CloseWrite()

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read ack: %v", err)
	}
	if string(buf[:n])[:5] != "ERROR" {
		t.Fatalf("expected ERROR ack for unauthorized user, got %q", buf[:n])
	}
	conn.Close()
}
