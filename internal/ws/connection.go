package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// ClientEvent is the inbound wire envelope.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the outbound wire envelope.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type eventHub interface {
	HandleEvent(c *Conn, ev ClientEvent)
	Disconnected(c *Conn)
}

// Conn is one live transport session. Inbound events are processed in
// receipt order by a single loop; outbound delivery goes through a
// buffered channel so publishers never block on a slow socket.
type Conn struct {
	ws  wsConnection
	hub eventHub
	key string

	// identity is set by the register handler and only touched from
	// the event loop goroutine.
	identity string

	fromClient chan ClientEvent
	fromServer chan ServerEvent
	errorCh    chan error
}

func NewConn(hub eventHub, ws wsConnection) *Conn {
	return &Conn{
		ws:         ws,
		hub:        hub,
		key:        uuid.NewString(),
		fromClient: make(chan ClientEvent),
		fromServer: make(chan ServerEvent, 100),
		errorCh:    make(chan error, 2),
	}
}

// Key returns the unique handle id of this session.
func (c *Conn) Key() string {
	return c.key
}

// Deliver queues an event for the client without blocking. It reports
// false when the buffer is full, in which case the event is dropped and
// the client reconciles via a pull-based fetch.
func (c *Conn) Deliver(event string, payload any) bool {
	select {
	case c.fromServer <- ServerEvent{Event: event, Data: payload}:
		return true
	default:
		return false
	}
}

func (c *Conn) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Disconnected(c)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Conn) pumpEvents(ctx context.Context) error {
	for {
		var ev ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			c.hub.HandleEvent(c, ev)
		case ev := <-c.fromServer:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
