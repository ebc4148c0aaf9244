package redis

import (
	"bufio"
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/kuhhandel/internal/transport"
)

func dial(t *testing.T, channel string) *Conn {
	t.Helper()
	addr := os.Getenv("KH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KH_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Options{Addr: addr, Channel: channel, PresenceTTL: 3 * time.Second, ConnectTimeout: 3 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedis_PubSubAndPresence(t *testing.T) {
	channel := "game-test-" + uuid.NewString()
	a := dial(t, channel)
	b := dial(t, channel)
	ctx := context.Background()

	got := make(chan []byte, 4)
	_, err := b.Subscribe(ctx, "actions", func(data []byte) { got <- data })
	require.NoError(t, err)
	require.NoError(t, a.Publish(ctx, "actions", []byte("hello")))
	select {
	case m := <-got:
		assert.Equal(t, "hello", string(m))
	case <-time.After(3 * time.Second):
		t.Fatal("no message")
	}

	require.NoError(t, a.Enter(ctx, transport.MemberData{PlayerID: "alice", Name: "Alice"}))
	require.NoError(t, b.Enter(ctx, transport.MemberData{PlayerID: "bob", Name: "Bob"}))
	select {
	case <-a.Changes():
	case <-time.After(3 * time.Second):
		t.Fatal("no presence signal")
	}

	ms, err := a.Members(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, transport.MemberIDs(ms))

	require.NoError(t, b.Leave(ctx))
	ms, err = a.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, transport.MemberIDs(ms))
}

// refusingServer speaks just enough RESP to answer PING and hangs up on
// SUBSCRIBE. Every other command gets an error reply.
type refusingServer struct {
	ln   net.Listener
	mu   sync.Mutex
	open int
}

func newRefusingServer(t *testing.T) *refusingServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &refusingServer{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.open++
			s.mu.Unlock()
			go s.serve(conn)
		}
	}()
	return s
}

func (s *refusingServer) openConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *refusingServer) serve(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		s.open--
		s.mu.Unlock()
	}()
	r := bufio.NewReader(conn)
	for {
		cmd, err := readCommand(r)
		if err != nil {
			return
		}
		switch strings.ToUpper(cmd) {
		case "PING":
			_, err = conn.Write([]byte("+PONG\r\n"))
		case "SUBSCRIBE":
			return
		default:
			_, err = conn.Write([]byte("-ERR unknown command\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// readCommand reads one RESP array and returns its first element.
func readCommand(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "*")))
	if err != nil {
		return "", err
	}
	var name string
	for i := 0; i < n; i++ {
		if _, err := r.ReadString('\n'); err != nil { // $len
			return "", err
		}
		arg, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		if i == 0 {
			name = strings.TrimSpace(arg)
		}
	}
	return name, nil
}

func TestDial_PresenceSubscribeFails(t *testing.T) {
	srv := newRefusingServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, Options{Addr: srv.ln.Addr().String(), Channel: "game-r1", ConnectTimeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe presence")
	assert.Eventually(t, func() bool { return srv.openConns() == 0 }, 2*time.Second, 10*time.Millisecond)
}
