// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcr_rpc

import (
	"context"
	"encoding/json"

	"github.com/decred/dcrd/dcrjson/v4"
	dcrdtypes "github.com/decred/dcrd/rpc/jsonrpc/types/v4"
)

// Recognized notification methods (spec.md §6).
const (
	methodBlockConnected    = "blockconnected"
	methodBlockDisconnected = "blockdisconnected"
	methodNewTickets        = "newtickets"
	methodWork              = "work"
)

// Recognized request (subscription) methods used by the built-in wrappers
// (spec.md §6).
const (
	methodNotifyBlocks          = "notifyblocks"
	methodNotifyNewTickets      = "notifynewtickets"
	methodNotifyWork            = "notifywork"
	methodNotifyNewTransactions = "notifynewtransactions"
)

// isNotifyMethod reports whether method is one of the recognized
// subscription request methods tracked in the NotificationStateTable.
func isNotifyMethod(method string) bool {
	switch method {
	case methodNotifyBlocks, methodNotifyNewTickets, methodNotifyWork, methodNotifyNewTransactions:
		return true
	default:
		return false
	}
}

// notifyRegistrationCmd builds a fresh command value for re-issuing the
// named subscription on reconnect (spec.md §4.7).
func notifyRegistrationCmd(method string) (interface{}, bool) {
	switch method {
	case methodNotifyBlocks:
		return dcrdtypes.NewNotifyBlocksCmd(), true
	case methodNotifyNewTickets:
		return dcrdtypes.NewNotifyNewTicketsCmd(), true
	case methodNotifyWork:
		return dcrdtypes.NewNotifyWorkCmd(), true
	case methodNotifyNewTransactions:
		verbose := false
		return dcrdtypes.NewNotifyNewTransactionsCmd(&verbose), true
	default:
		return nil, false
	}
}

// marshalNotifyCmd renders cmd as a JSON-RPC 1.0 request with the given id.
func marshalNotifyCmd(id uint64, cmd interface{}) ([]byte, error) {
	return dcrjson.MarshalCmd(dcrjson.RpcVersion1, id, cmd)
}

// BlockConnectedNtfn carries the payload of a blockconnected notification:
// the connected block's serialized header and the hex-encoded transactions
// it contains.  Exact wire schemas for notification payloads are an
// external concern (spec.md §1); this is the minimal useful shape.
type BlockConnectedNtfn struct {
	BlockHeader  string
	Transactions []string
}

// BlockDisconnectedNtfn carries the payload of a blockdisconnected
// notification.  Per spec.md §9, this callback's signature deliberately
// differs from BlockConnectedNtfn's (header only, no transactions) rather
// than being forced into symmetry with it.
type BlockDisconnectedNtfn struct {
	BlockHeader string
}

// NewTicketsNtfn carries the payload of a newtickets notification.
type NewTicketsNtfn struct {
	BlockHash    string
	BlockHeight  int64
	StakeDiff    int64
	TicketHashes []string
}

// WorkNtfn carries the payload of a work notification.
type WorkNtfn struct {
	Data   string
	Target string
	Reason string
}

// NotificationHandlers defines the callbacks a caller may register to
// receive asynchronous notifications (spec.md §4.6).  Every field is
// optional; unset callbacks are simply not invoked.  The notification
// callbacks execute in the demultiplexer goroutine (spec.md §5) and must
// not block indefinitely; OnClientConnected runs on the goroutine that
// completed the connection (the caller of New/Connect, or the reconnect
// supervisor).
type NotificationHandlers struct {
	// OnClientConnected is invoked once after the initial connection and
	// again after every successful reconnect (spec.md §4.7,
	// SPEC_FULL.md §10).
	OnClientConnected func()

	OnBlockConnected    func(ntfn BlockConnectedNtfn)
	OnBlockDisconnected func(ntfn BlockDisconnectedNtfn)
	OnNewTickets        func(ntfn NewTicketsNtfn)
	OnWork              func(ntfn WorkNtfn)

	// OnUnknownNotification is invoked for any method not recognized
	// above, with the raw, still-encoded params array.
	OnUnknownNotification func(method string, params []json.RawMessage)
}

// dispatchNotification parses params into the typed shape required by the
// callback registered for method and invokes it (spec.md §4.6).  Parse or
// callback failures never propagate; they are swallowed per spec.md §7's
// "internal bugs ... logged and dropped, never fatal" policy.
func (c *Client) dispatchNotification(method string, params []json.RawMessage) {
	if c.handlers == nil {
		return
	}

	switch method {
	case methodBlockConnected:
		if c.handlers.OnBlockConnected == nil {
			return
		}
		var ntfn BlockConnectedNtfn
		if !unmarshalParams(params, &ntfn.BlockHeader, &ntfn.Transactions) {
			log.Warnf("Failed to unmarshal %s notification", method)
			return
		}
		c.handlers.OnBlockConnected(ntfn)

	case methodBlockDisconnected:
		if c.handlers.OnBlockDisconnected == nil {
			return
		}
		var ntfn BlockDisconnectedNtfn
		if !unmarshalParams(params, &ntfn.BlockHeader) {
			log.Warnf("Failed to unmarshal %s notification", method)
			return
		}
		c.handlers.OnBlockDisconnected(ntfn)

	case methodNewTickets:
		if c.handlers.OnNewTickets == nil {
			return
		}
		var ntfn NewTicketsNtfn
		if !unmarshalParams(params, &ntfn.BlockHash, &ntfn.BlockHeight, &ntfn.StakeDiff, &ntfn.TicketHashes) {
			log.Warnf("Failed to unmarshal %s notification", method)
			return
		}
		c.handlers.OnNewTickets(ntfn)

	case methodWork:
		if c.handlers.OnWork == nil {
			return
		}
		var ntfn WorkNtfn
		if !unmarshalParams(params, &ntfn.Data, &ntfn.Target, &ntfn.Reason) {
			log.Warnf("Failed to unmarshal %s notification", method)
			return
		}
		c.handlers.OnWork(ntfn)

	default:
		if c.handlers.OnUnknownNotification != nil {
			c.handlers.OnUnknownNotification(method, params)
		}
	}
}

// unmarshalParams unmarshals each element of params positionally into the
// corresponding out pointer.  Returns false (without partially applying
// results visibly beyond what was already unmarshalled) if there are fewer
// params than targets or any element fails to decode.
func unmarshalParams(params []json.RawMessage, outs ...interface{}) bool {
	if len(params) < len(outs) {
		return false
	}
	for i, out := range outs {
		if err := json.Unmarshal(params[i], out); err != nil {
			return false
		}
	}
	return true
}

// FutureNotifyBlocksResult is a future promise to deliver the result of a
// NotifyBlocksAsync RPC invocation (or an applicable error).
type FutureNotifyBlocksResult chan *response

// Receive waits for the response promised by the future and returns an
// error if the registration was refused.
func (r FutureNotifyBlocksResult) Receive() error {
	_, err := receiveFuture(r)
	return err
}

// NotifyBlocksAsync returns an instance of a type that can be used to get
// the result of the RPC at some future time by invoking the Receive
// function on the returned instance.  In HTTP POST mode it returns an
// already-failed future (spec.md §4.8).
func (c *Client) NotifyBlocksAsync(ctx context.Context) FutureNotifyBlocksResult {
	return c.notifyAsync(ctx, methodNotifyBlocks, dcrdtypes.NewNotifyBlocksCmd())
}

// NotifyBlocks registers the client to receive blockconnected and
// blockdisconnected notifications.
func (c *Client) NotifyBlocks(ctx context.Context) error {
	return c.NotifyBlocksAsync(ctx).Receive()
}

// FutureNotifyWorkResult is a future promise to deliver the result of a
// NotifyWorkAsync RPC invocation (or an applicable error).
type FutureNotifyWorkResult chan *response

// Receive waits for the response promised by the future.
func (r FutureNotifyWorkResult) Receive() error {
	_, err := receiveFuture(r)
	return err
}

// NotifyWorkAsync returns an instance of a type that can be used to get the
// result of the RPC at some future time by invoking the Receive function on
// the returned instance.
func (c *Client) NotifyWorkAsync(ctx context.Context) FutureNotifyWorkResult {
	return c.notifyAsync(ctx, methodNotifyWork, dcrdtypes.NewNotifyWorkCmd())
}

// NotifyWork registers the client to receive work notifications.
func (c *Client) NotifyWork(ctx context.Context) error {
	return c.NotifyWorkAsync(ctx).Receive()
}

// FutureNotifyNewTicketsResult is a future promise to deliver the result of
// a NotifyNewTicketsAsync RPC invocation (or an applicable error).
type FutureNotifyNewTicketsResult chan *response

// Receive waits for the response promised by the future.
func (r FutureNotifyNewTicketsResult) Receive() error {
	_, err := receiveFuture(r)
	return err
}

// NotifyNewTicketsAsync returns an instance of a type that can be used to
// get the result of the RPC at some future time by invoking the Receive
// function on the returned instance.
func (c *Client) NotifyNewTicketsAsync(ctx context.Context) FutureNotifyNewTicketsResult {
	return c.notifyAsync(ctx, methodNotifyNewTickets, dcrdtypes.NewNotifyNewTicketsCmd())
}

// NotifyNewTickets registers the client to receive newtickets
// notifications.
func (c *Client) NotifyNewTickets(ctx context.Context) error {
	return c.NotifyNewTicketsAsync(ctx).Receive()
}

// FutureNotifyNewTransactionsResult is a future promise to deliver the
// result of a NotifyNewTransactionsAsync RPC invocation (or an applicable
// error).
type FutureNotifyNewTransactionsResult chan *response

// Receive waits for the response promised by the future.
func (r FutureNotifyNewTransactionsResult) Receive() error {
	_, err := receiveFuture(r)
	return err
}

// NotifyNewTransactionsAsync returns an instance of a type that can be used
// to get the result of the RPC at some future time by invoking the
// Receive function on the returned instance.
func (c *Client) NotifyNewTransactionsAsync(ctx context.Context, verbose bool) FutureNotifyNewTransactionsResult {
	return c.notifyAsync(ctx, methodNotifyNewTransactions, dcrdtypes.NewNotifyNewTransactionsCmd(&verbose))
}

// NotifyNewTransactions registers the client to receive notification of
// each new transaction that enters the mempool.  The server has no
// notifynewtransactions method registered in many deployments, which is
// exactly spec.md §8 scenario 2: a registration error surfaces as
// UnregisteredNotification.
func (c *Client) NotifyNewTransactions(ctx context.Context, verbose bool) error {
	return c.NotifyNewTransactionsAsync(ctx, verbose).Receive()
}

// notifyAsync is the shared submission path for every notify_* wrapper
// (spec.md §4.2's note on registration calls): it goes through the normal
// sendCmd submission path, then translates a server error response into
// UnregisteredNotification specifically for registration methods.
func (c *Client) notifyAsync(ctx context.Context, method string, cmd interface{}) chan *response {
	if c.config.HTTPPostMode {
		return newFutureError(ErrNotificationsUnsupported)
	}

	raw := c.sendCmd(ctx, cmd)
	translated := make(chan *response, 1)
	go func() {
		res := <-raw
		if res.err != nil {
			if rerr, ok := res.err.(*RPCClientError); ok && rerr.Code == ErrServerError {
				translated <- &response{err: errUnregisteredNotification(method)}
				return
			}
		}
		translated <- res
	}()
	return translated
}
