package bridge

import "sync"

// Pipe returns two connected in-memory transports, one per context. It lets
// the correlation logic and the full pipeline run without any real
// dual-context environment.
func Pipe() (Transport, Transport) {
	ab := make(chan Envelope, 64)
	ba := make(chan Envelope, 64)
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	a := &pipeTransport{in: ba, out: ab, done: done, close: closeDone}
	b := &pipeTransport{in: ab, out: ba, done: done, close: closeDone}
	return a, b
}

type pipeTransport struct {
	in    <-chan Envelope
	out   chan<- Envelope
	done  chan struct{}
	close func()
}

func (t *pipeTransport) Send(env Envelope) error {
	select {
	case <-t.done:
		return ErrClosed
	case t.out <- env:
		return nil
	}
}

func (t *pipeTransport) Receive() (Envelope, error) {
	select {
	case <-t.done:
		return Envelope{}, ErrClosed
	case env := <-t.in:
		return env, nil
	}
}

func (t *pipeTransport) Close() error {
	t.close()
	return nil
}
