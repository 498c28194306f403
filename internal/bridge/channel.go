package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport moves envelopes across the host-specific medium. Receive blocks
// until an envelope arrives or the medium shuts down. Implementations must
// allow Send to be called concurrently with Receive.
type Transport interface {
	Send(Envelope) error
	Receive() (Envelope, error)
	Close() error
}

// EventHandler receives unsolicited events. Events are never correlated and
// never resolve a pending call.
type EventHandler func(eventType string, payload json.RawMessage)

// RequestHandler serves incoming requests on the privileged side of the
// channel. The returned value is marshaled into the response payload.
type RequestHandler func(ctx context.Context, action string, payload json.RawMessage) (any, error)

// Channel correlates requests with responses over a Transport. One pending
// call exists per id at most; the entry dies on first response or timeout,
// never both.
type Channel struct {
	transport Transport
	log       *slog.Logger

	mu        sync.Mutex
	pending   map[string]chan Envelope
	onEvent   EventHandler
	onRequest RequestHandler

	closed    chan struct{}
	closeOnce sync.Once
}

func New(transport Transport, log *slog.Logger) *Channel {
	return &Channel{
		transport: transport,
		log:       log.With("component", "bridge"),
		pending:   make(map[string]chan Envelope),
		closed:    make(chan struct{}),
	}
}

// OnEvent registers the handler for unsolicited events. Must be set before
// Run starts consuming the transport.
func (c *Channel) OnEvent(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = h
}

// OnRequest registers the handler serving incoming requests.
func (c *Channel) OnRequest(h RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRequest = h
}

// Run consumes the transport until it fails or ctx is done. Malformed or
// foreign-namespace envelopes are ignored; responses naming an unknown id
// (already timed out, or never issued) are discarded.
func (c *Channel) Run(ctx context.Context) error {
	defer c.shutdown()

	for {
		env, err := c.transport.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("transport receive: %w", err)
		}
		if env.Namespace != Namespace {
			continue
		}

		switch env.Direction {
		case DirectionResponse:
			c.resolve(env)
		case DirectionEvent:
			c.dispatchEvent(env)
		case DirectionRequest:
			go c.serve(ctx, env)
		default:
			c.log.Debug("Ignoring envelope with unknown direction", "direction", env.Direction)
		}
	}
}

// Close tears the channel down; outstanding calls fail with ErrClosed.
func (c *Channel) Close() error {
	err := c.transport.Close()
	c.shutdown()
	return err
}

func (c *Channel) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Call issues one request and waits for its response, the deadline, or ctx,
// whichever comes first. Payload may be nil for actions without arguments.
func (c *Channel) Call(ctx context.Context, action string, payload any, timeout time.Duration) (json.RawMessage, error) {
	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", action, err)
		}
		body = b
	}

	id, respCh := c.register()
	env := Envelope{
		Namespace: Namespace,
		Direction: DirectionRequest,
		ID:        id,
		Action:    action,
		Payload:   body,
	}
	if err := c.transport.Send(env); err != nil {
		c.unregister(id)
		return nil, fmt.Errorf("send %s: %w", action, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if !resp.OK {
			return nil, &RemoteError{Action: action, Message: resp.Error}
		}
		return resp.Payload, nil
	case <-timer.C:
		c.unregister(id)
		return nil, fmt.Errorf("%s after %s: %w", action, timeout, ErrTimeout)
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	case <-c.closed:
		c.unregister(id)
		return nil, ErrClosed
	}
}

// Emit sends an unsolicited event to the other context.
func (c *Channel) Emit(eventType string, payload any) error {
	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", eventType, err)
		}
		body = b
	}
	return c.transport.Send(Envelope{
		Namespace: Namespace,
		Direction: DirectionEvent,
		Type:      eventType,
		Payload:   body,
	})
}

// register creates a pending entry under a fresh id. Ids carry a millisecond
// time component plus a random suffix and are re-rolled on the (unlikely)
// collision with an outstanding call.
func (c *Channel) register() (string, chan Envelope) {
	ch := make(chan Envelope, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		id := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
		if _, exists := c.pending[id]; exists {
			continue
		}
		c.pending[id] = ch
		return id, ch
	}
}

func (c *Channel) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Channel) resolve(env Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("Discarding response with no pending call", "id", env.ID)
		return
	}
	ch <- env
}

func (c *Channel) dispatchEvent(env Envelope) {
	c.mu.Lock()
	h := c.onEvent
	c.mu.Unlock()
	if h != nil {
		h(env.Type, env.Payload)
	}
}

// serve runs the request handler off the receive loop so long-running
// actions do not block event delivery.
func (c *Channel) serve(ctx context.Context, req Envelope) {
	c.mu.Lock()
	h := c.onRequest
	c.mu.Unlock()

	resp := Envelope{
		Namespace: Namespace,
		Direction: DirectionResponse,
		ID:        req.ID,
	}

	if h == nil {
		resp.Error = fmt.Sprintf("no handler for action %q", req.Action)
	} else if result, err := h(ctx, req.Action, req.Payload); err != nil {
		resp.Error = err.Error()
	} else {
		body, err := json.Marshal(result)
		if err != nil {
			resp.Error = fmt.Sprintf("marshal %s result: %v", req.Action, err)
		} else {
			resp.OK = true
			resp.Payload = body
		}
	}

	if err := c.transport.Send(resp); err != nil {
		c.log.Warn("Failed to send response", "action", req.Action, "error", err)
	}
}
