// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcr_rpc

// pendingEntry is one queued, not-yet-written frame.  The id is carried
// alongside the payload but not used for routing; IdMap already owns the
// response-channel association (spec.md §3 PendingQueue invariant).
type pendingEntry struct {
	id      uint64
	payload []byte
}

// sendHandler is the send middleman (spec.md §4.4): it accepts
// user-submitted commands on newRequestChan, registers their id -> reply
// channel mapping (already done by addRequest before the jsonRequest
// reaches this channel), appends their bytes to pendingQueue, and feeds
// the writer one frame at a time, waiting for a write-acknowledgement
// before releasing the next.
//
// It must be run as a goroutine and exits when told to disconnect.
func (c *Client) sendHandler() {
	defer c.wg.Done()

	for {
		select {
		case jReq := <-c.newRequestChan:
			c.pendingQueue.PushBack(pendingEntry{id: jReq.id, payload: jReq.marshalledJSON})
			if !c.dispatchNext() {
				return
			}

		case <-c.writerAck:
			c.writerBusy = false
			if !c.dispatchNext() {
				return
			}

		case entries := <-c.reenqueueChan:
			// A reconnect just completed. The previous connection's
			// writer may have died mid-write without ever reaching
			// writerAck, so writerBusy can be wedged true for a
			// writer that no longer exists; the new writer is always
			// idle, so clear it unconditionally here rather than
			// waiting on an ack that will never come.
			c.writerBusy = false
			// The reconnect supervisor re-issues every previously
			// registered subscription ahead of any user work that
			// was already waiting (spec.md §4.7).
			for i := len(entries) - 1; i >= 0; i-- {
				c.pendingQueue.PushFront(entries[i])
			}
			if !c.dispatchNext() {
				return
			}

		case <-c.disconnect:
			c.drainOnDisconnect()
			return
		}
	}
}

// dispatchNext sends the head of pendingQueue to the writer if it is idle.
// Returns false if the client is disconnecting or shutting down mid-send,
// in which case the caller must stop processing.
func (c *Client) dispatchNext() bool {
	if c.writerBusy {
		return true
	}
	front := c.pendingQueue.Front()
	if front == nil {
		return true
	}
	entry := front.Value.(pendingEntry)

	select {
	case c.writerInput <- entry.payload:
		c.writerBusy = true
		c.pendingQueue.Remove(front)
		return true
	case <-c.disconnect:
		c.drainOnDisconnect()
		return false
	case <-c.shutdown:
		c.drainOnDisconnect()
		return false
	}
}

// drainOnDisconnect implements spec.md §4.4's disconnect policy: close the
// user-command channel for new work (by no longer servicing it), close
// every outstanding IdMap reply channel, clear pendingQueue, and emit the
// disconnect acknowledgement.
func (c *Client) drainOnDisconnect() {
	c.requestLock.Lock()
	c.removeAllRequestsWithError(ErrClientDisconnect)
	c.requestLock.Unlock()

	c.pendingQueue.Init()
	c.closeActiveConn()

	c.disconnectAck <- struct{}{}
}
