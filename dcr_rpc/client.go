// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcr_rpc

import (
	"container/list"
	"context"
	"encoding/json"
)

// inboundQueueSize bounds the reader->demultiplexer hand-off channel.  It
// is sized generously rather than made truly unbounded: spec.md §5 asks
// only that the socket never back-pressure the read loop during a
// notification storm, which a buffer this size absorbs in practice without
// the complexity of a dynamically growing queue.
const inboundQueueSize = 4096

// New creates a new RPC client based on the provided connection
// configuration details.  The notification handlers parameter may be nil
// if the caller is not interested in receiving notifications, and is
// ignored entirely when running in HTTP POST mode (spec.md §4.1).
func New(config *ConnConfig, handlers *NotificationHandlers) (*Client, error) {
	c := &Client{
		config:          config,
		handlers:        handlers,
		requestMap:      make(map[uint64]*list.Element),
		requestList:     list.New(),
		pendingQueue:    list.New(),
		ntfnState:       make(map[string]uint64),
		newRequestChan:  make(chan *jsonRequest, sendBufferSize),
		writerInput:     make(chan []byte),
		writerAck:       make(chan struct{}),
		reenqueueChan:   make(chan []pendingEntry, 1),
		reconnectSignal: make(chan struct{}, 1),
		inboundMsgs:     make(chan []byte, inboundQueueSize),
		sendPostChan:    make(chan *sendPostDetails, sendPostBufferSize),
		disconnect:      make(chan struct{}),
		disconnectAck:   make(chan struct{}, 1),
		shutdown:        make(chan struct{}),
		disconnected:    true,
	}

	if config.HTTPPostMode {
		httpClient, err := newHTTPClient(config)
		if err != nil {
			return nil, err
		}
		c.httpClient = httpClient
		c.wg.Add(1)
		go c.sendPostHandler()
		c.setDisconnected(false)
		return c, nil
	}

	if config.DisableConnectOnNew {
		return c, nil
	}

	if err := c.startWebsocket(); err != nil {
		return nil, err
	}
	return c, nil
}

// startWebsocket dials the server and starts every long-lived transport
// goroutine (spec.md §5): the send middleman, the demultiplexer loop, the
// reconnect supervisor, and the first writer/reader pair.
func (c *Client) startWebsocket() error {
	conn, err := dial(c.config)
	if err != nil {
		return err
	}

	c.disconnect = make(chan struct{})
	c.wg.Add(5)
	c.setActiveConn(conn)
	go c.sendHandler()
	go c.demuxLoop()
	go c.wsReconnectHandler()
	go c.wsOutHandler(conn)
	go c.wsInHandler(conn)

	c.setDisconnected(false)

	if c.handlers != nil && c.handlers.OnClientConnected != nil {
		c.handlers.OnClientConnected()
	}
	return nil
}

// Connect dials the server and resumes transport processing.  It is only
// valid in websocket mode when the client is currently disconnected
// (spec.md §4.1).
func (c *Client) Connect() error {
	if c.config.HTTPPostMode {
		return ErrClientNotConnected
	}
	if !c.isDisconnectedLocked() {
		return ErrWebsocketAlreadyConnected
	}

	select {
	case <-c.shutdown:
		return ErrClientShutdown
	default:
	}

	return c.startWebsocket()
}

// Disconnect is idempotent: it marks the client disconnected, tells the
// send middleman to drain and stop, and waits for the send middleman to
// acknowledge before returning (spec.md §4.1, §8 "Idempotent
// disconnect").  Calling it on an already-disconnected client returns
// immediately without error.
func (c *Client) Disconnect() {
	if c.config.HTTPPostMode {
		return
	}
	if c.isDisconnectedLocked() {
		return
	}

	c.setDisconnected(true)
	close(c.disconnect)

	// Block until the send middleman acknowledges the drain (spec.md
	// §4.1): "waits for the acknowledgement token ... returns."
	<-c.disconnectAck
}

// IsDisconnected reports whether the client currently believes it is
// disconnected from the server.
func (c *Client) IsDisconnected() bool {
	return c.isDisconnectedLocked()
}

// rawRequestEnvelope is the JSON-RPC 1.0 request envelope used for
// caller-supplied custom commands (spec.md §4.2), which are not backed by
// a registered dcrjson command type the way the built-in wrappers are.
type rawRequestEnvelope struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// FutureCustomCommandResult is a future promise to deliver the result of a
// SendCustomCommand RPC invocation (or an applicable error), following the
// same Future/Receive pattern as every typed wrapper in chain.go/notify.go
// rather than exposing the unexported response type directly.
type FutureCustomCommandResult chan *response

// Receive waits for the response promised by the future and returns the
// still-encoded result, or an error if the command failed.
func (r FutureCustomCommandResult) Receive() (json.RawMessage, error) {
	return receiveFuture(r)
}

// SendCustomCommand marshals an arbitrary JSON-RPC 1.0 request for method
// with the given already-encoded params, submits it, and returns its id
// together with a future the caller awaits to get the response (spec.md
// §4.2).  The caller receives RpcDisconnected immediately if the
// submission cannot be accepted.
func (c *Client) SendCustomCommand(ctx context.Context, method string, params []json.RawMessage) (uint64, FutureCustomCommandResult, error) {
	id := c.NextID()
	if params == nil {
		params = []json.RawMessage{}
	}
	marshalled, err := json.Marshal(rawRequestEnvelope{JSONRPC: "1.0", ID: id, Method: method, Params: params})
	if err != nil {
		return id, nil, errMarshaller(err)
	}

	responseChan := make(chan *response, 1)
	jReq := &jsonRequest{id: id, method: method, marshalledJSON: marshalled, responseChan: responseChan}
	c.sendRequest(ctx, jReq)

	return id, responseChan, nil
}
