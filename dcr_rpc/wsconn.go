// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcr_rpc

import (
	"time"

	"github.com/btcsuite/websocket"
)

// wsOutHandler is the outbound writer (spec.md §4.3).  It owns the write
// half of conn for its lifetime: it serializes every frame handed to it on
// writerInput and emits a write-acknowledgement after each successful
// flush.  On a write error it closes conn (which unblocks whichever of
// wsInHandler/wsOutHandler is still bound to it), signals the reconnect
// supervisor, and exits; the supervisor is responsible for waiting out
// this generation before spawning a replacement bound to a fresh
// connection (the respawn variant of spec.md §9).
func (c *Client) wsOutHandler(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.connWG.Done()

	for {
		select {
		case payload := <-c.writerInput:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warnf("Websocket send failed: %v", err)
				c.closeActiveConn()
				c.signalReconnect()
				return
			}
			select {
			case c.writerAck <- struct{}{}:
			case <-c.disconnect:
				return
			case <-c.shutdown:
				return
			}

		case <-c.disconnect:
			return

		case <-c.shutdown:
			return
		}
	}
}

// wsInHandler is the inbound reader (spec.md §4.5).  It owns the read half
// of conn for its lifetime, forwarding each frame's payload to the
// demultiplexer via inboundMsgs, a buffered channel of inboundQueueSize
// slots; when that buffer is full the read loop blocks until the
// demultiplexer catches up.  On a read error or close frame it closes conn, signals the reconnect
// supervisor, and exits.
func (c *Client) wsInHandler(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.connWG.Done()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedCloseErr(err) {
				log.Warnf("Websocket receive failed: %v", err)
			}
			c.closeActiveConn()
			c.signalReconnect()
			return
		}

		select {
		case c.inboundMsgs <- msg:
		case <-c.disconnect:
			return
		case <-c.shutdown:
			return
		}
	}
}

// closeActiveConn closes the current generation's connection exactly once.
// Whichever of wsOutHandler/wsInHandler notices a transport failure first
// calls this to unblock its sibling, which is otherwise still parked in a
// blocking Read or Write on the same conn and would never learn the
// connection is gone (spec.md §5 resource discipline).
func (c *Client) closeActiveConn() {
	c.connMu.Lock()
	conn := c.activeConn
	c.activeConn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// setActiveConn records conn as the current generation's connection and
// arms connWG to track its reader/writer pair.
func (c *Client) setActiveConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.activeConn = conn
	c.connMu.Unlock()
	c.connWG.Add(2)
}

// isExpectedCloseErr reports whether err represents an orderly close
// frame, which spec.md §6 says should be respected rather than logged as a
// failure.
func isExpectedCloseErr(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// signalReconnect raises the reconnect signal without blocking if one is
// already pending.
func (c *Client) signalReconnect() {
	select {
	case c.reconnectSignal <- struct{}{}:
	default:
	}
}

// demuxLoop drains inboundMsgs and feeds each payload to the
// demultiplexer.  It lives for the entire connected lifetime of the
// client, spanning reconnects, unlike wsInHandler/wsOutHandler.
func (c *Client) demuxLoop() {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.inboundMsgs:
			c.handleMessage(msg)
		case <-c.disconnect:
			return
		case <-c.shutdown:
			return
		}
	}
}

// wsReconnectHandler is the reconnect supervisor (spec.md §4.7).  It lives
// for the entire connected lifetime of the client and drives the
// Connected/Reconnecting/Disconnected state machine.
func (c *Client) wsReconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.reconnectSignal:
			if c.isDisconnectedLocked() {
				// Already torn down by a concurrent Disconnect.
				continue
			}
			if c.config.DisableAutoReconnect {
				c.enterDisconnected()
				continue
			}
			c.reconnect()

		case <-c.disconnect:
			return

		case <-c.shutdown:
			return
		}
	}
}

// enterDisconnected implements the Disconnected terminal state of spec.md
// §4.7: user submissions are rejected and every outstanding reply channel
// is closed with RpcDisconnected.
func (c *Client) enterDisconnected() {
	c.setDisconnected(true)
	c.requestLock.Lock()
	c.removeAllRequestsWithError(ErrClientDisconnect)
	c.requestLock.Unlock()
}

// reconnect is the Reconnecting state: it first makes sure the previous
// generation's reader and writer have both fully exited and its socket is
// closed, then repeatedly re-dials with a fixed interval between attempts
// until it succeeds or the client is torn down, then restores every
// previously registered notification subscription before declaring the
// connection live again.
func (c *Client) reconnect() {
	c.closeActiveConn()
	c.connWG.Wait()

	for {
		conn, err := dial(c.config)
		if err == nil {
			c.wg.Add(2)
			c.setActiveConn(conn)
			go c.wsOutHandler(conn)
			go c.wsInHandler(conn)

			c.reRegisterNotifications()
			c.setDisconnected(false)

			if c.handlers != nil && c.handlers.OnClientConnected != nil {
				c.handlers.OnClientConnected()
			}
			return
		}

		log.Debugf("Reconnect attempt failed: %v", err)

		select {
		case <-time.After(connectionRetryInterval):
		case <-c.disconnect:
			return
		case <-c.shutdown:
			return
		}
	}
}

// reRegisterNotifications re-issues every subscription recorded in
// ntfnState with a fresh id, ahead of any pending user work, per spec.md
// §4.7 and the "Reconnect preserves subscriptions" property of spec.md §8.
// It always hands the (possibly empty) batch to sendHandler over
// reenqueueChan, even when there is nothing to re-register: that message
// is also what tells sendHandler the new connection's writer is idle, so
// it resets writerBusy instead of staying wedged from whatever was
// in-flight when the previous connection died.
func (c *Client) reRegisterNotifications() {
	c.ntfnLock.Lock()
	methods := make([]string, 0, len(c.ntfnState))
	for method := range c.ntfnState {
		methods = append(methods, method)
	}
	c.ntfnLock.Unlock()

	entries := make([]pendingEntry, 0, len(methods))
	for _, method := range methods {
		cmd, ok := notifyRegistrationCmd(method)
		if !ok {
			continue
		}
		id := c.NextID()
		marshalled, err := marshalNotifyCmd(id, cmd)
		if err != nil {
			log.Warnf("Failed to re-marshal notification re-registration %q: %v", method, err)
			continue
		}

		respChan := make(chan *response, 1)
		jReq := &jsonRequest{id: id, method: method, marshalledJSON: marshalled, responseChan: respChan}
		if err := c.addRequest(jReq); err != nil {
			continue
		}
		// Nobody awaits this particular response synchronously; the
		// demultiplexer still records the success into ntfnState via
		// the normal path, refreshing its id.
		go discardResponse(respChan)

		entries = append(entries, pendingEntry{id: id, payload: marshalled})
	}

	select {
	case c.reenqueueChan <- entries:
	case <-c.disconnect:
	case <-c.shutdown:
	}
}

// discardResponse drains a reply channel nobody else is listening on.
func discardResponse(ch chan *response) {
	<-ch
}
