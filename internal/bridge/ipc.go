package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
)

// SocketTransport carries newline-delimited JSON envelopes over a unix
// socket. This is the real cross-context medium; one side listens (the
// privileged context), the other dials.
type SocketTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	wmu    sync.Mutex
}

// Dial connects to the privileged context's socket.
func Dial(sockPath string) (*SocketTransport, error) {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", sockPath, err)
	}
	return newSocketTransport(conn), nil
}

func newSocketTransport(conn net.Conn) *SocketTransport {
	return &SocketTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (t *SocketTransport) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	data = append(data, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.conn.Write(data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Receive reads one line and decodes it. A line that is not a valid envelope
// is skipped; the shared medium may carry unrelated traffic.
func (t *SocketTransport) Receive() (Envelope, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			return Envelope{}, err
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		return env, nil
	}
}

func (t *SocketTransport) Close() error {
	return t.conn.Close()
}

// Listener accepts orchestrator connections on the privileged side.
type Listener struct {
	listener net.Listener
	sockPath string
}

// Listen creates the socket, removing any stale file left by a previous run.
func Listen(sockPath string) (*Listener, error) {
	os.Remove(sockPath)
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", sockPath, err)
	}
	return &Listener{listener: l, sockPath: sockPath}, nil
}

func (l *Listener) Accept() (*SocketTransport, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return newSocketTransport(conn), nil
}

func (l *Listener) Close() error {
	err := l.listener.Close()
	os.Remove(l.sockPath)
	return err
}
