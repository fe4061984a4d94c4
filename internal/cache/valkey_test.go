package cache

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeValkey speaks just enough RESP for PING, GET and SET.
type fakeValkey struct {
	mu    sync.Mutex
	store map[string]string
	cmds  []string
}

func startFakeValkey(t *testing.T) (*fakeValkey, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen not permitted: %v", err)
	}
	f := &fakeValkey{store: make(map[string]string)}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f, ln.Addr().String()
}

func (f *fakeValkey) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.cmds = append(f.cmds, strings.Join(args, " "))
		var reply string
		switch strings.ToUpper(args[0]) {
		case "PING":
			reply = "+PONG\r\n"
		case "SET":
			f.store[args[1]] = args[2]
			reply = "+OK\r\n"
		case "GET":
			if v, ok := f.store[args[1]]; ok {
				reply = "$" + strconv.Itoa(len(v)) + "\r\n" + v + "\r\n"
			} else {
				reply = "$-1\r\n"
			}
		default:
			reply = "-ERR unknown command\r\n"
		}
		f.mu.Unlock()
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(header[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			return nil, err
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		args = append(args, strings.TrimRight(line, "\r\n"))
	}
	return args, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	fake, addr := startFakeValkey(t)
	ctx := context.Background()

	p, err := NewValkeyProvider(ctx, ValkeyConfig{Addr: addr, KeyPrefix: "audit:", ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := p.Get(ctx, "agent:1"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := p.Set(ctx, "agent:1", []byte(`{"sections":[]}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := p.Get(ctx, "agent:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"sections":[]}` {
		t.Fatalf("unexpected value %q", got)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if _, ok := fake.store["audit:agent:1"]; !ok {
		t.Fatalf("expected prefixed key, commands: %v", fake.cmds)
	}
}

func TestValkeyProviderRequiresAddr(t *testing.T) {
	if _, err := NewValkeyProvider(context.Background(), ValkeyConfig{}); err == nil {
		t.Fatalf("expected error without address")
	}
}

func TestEncodeCommand(t *testing.T) {
	got := string(encodeCommand("GET", "k"))
	if got != "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n" {
		t.Fatalf("unexpected encoding %q", got)
	}
}
