package dcr_rpc

import (
	"container/list"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return &Client{
		requestMap:  make(map[uint64]*list.Element),
		requestList: list.New(),
		ntfnState:   make(map[string]uint64),
	}
}

func TestNextIDIsUniqueAndMonotonic(t *testing.T) {
	c := newTestClient()

	seen := make(map[uint64]bool)
	var prev uint64
	for i := 0; i < 100; i++ {
		id := c.NextID()
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestAddRequestRejectsAfterShutdown(t *testing.T) {
	c := newTestClient()
	c.shutdown = make(chan struct{})
	close(c.shutdown)

	jReq := &jsonRequest{id: 1, responseChan: make(chan *response, 1)}
	err := c.addRequest(jReq)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClientShutdown)
	assert.Nil(t, c.requestMap[1])
}

func TestRemoveRequestReturnsAndForgets(t *testing.T) {
	c := newTestClient()
	c.shutdown = make(chan struct{})

	jReq := &jsonRequest{id: 7, responseChan: make(chan *response, 1)}
	require.NoError(t, c.addRequest(jReq))

	got := c.removeRequest(7)
	require.NotNil(t, got)
	assert.Equal(t, uint64(7), got.id)

	assert.Nil(t, c.removeRequest(7))
}

func TestRemoveAllRequestsWithErrorClosesEveryChannel(t *testing.T) {
	c := newTestClient()
	c.shutdown = make(chan struct{})

	chans := make([]chan *response, 3)
	for i := range chans {
		chans[i] = make(chan *response, 1)
		require.NoError(t, c.addRequest(&jsonRequest{id: uint64(i + 1), responseChan: chans[i]}))
	}

	c.removeAllRequestsWithError(ErrClientDisconnect)

	for _, ch := range chans {
		res := <-ch
		assert.ErrorIs(t, res.err, ErrClientDisconnect)
	}
	assert.Empty(t, c.requestMap)
	assert.Equal(t, 0, c.requestList.Len())
}

// TestHandleMessageCorrelatesResponse exercises the demultiplexer's response
// path: a message carrying a known id is delivered to the matching reply
// channel and removed from the IdMap.
func TestHandleMessageCorrelatesResponse(t *testing.T) {
	c := newTestClient()
	c.shutdown = make(chan struct{})

	respChan := make(chan *response, 1)
	require.NoError(t, c.addRequest(&jsonRequest{id: 42, method: "getblockcount", responseChan: respChan}))

	c.handleMessage([]byte(`{"id":42,"result":12345,"error":null}`))

	res := <-respChan
	require.NoError(t, res.err)
	assert.JSONEq(t, "12345", string(res.result))
	assert.Nil(t, c.requestMap[42])
}

// TestHandleMessageServerError ensures a non-null error object surfaces as a
// structured ErrServerError rather than being silently dropped.
func TestHandleMessageServerError(t *testing.T) {
	c := newTestClient()
	c.shutdown = make(chan struct{})

	respChan := make(chan *response, 1)
	require.NoError(t, c.addRequest(&jsonRequest{id: 1, method: "notifynewtransactions", responseChan: respChan}))

	c.handleMessage([]byte(`{"id":1,"result":null,"error":{"code":-1,"message":"Method not found"}}`))

	res := <-respChan
	require.Error(t, res.err)
	var rerr *RPCClientError
	require.True(t, errors.As(res.err, &rerr))
	assert.Equal(t, ErrServerError, rerr.Code)
}

// TestHandleMessageNotificationHasNoID ensures a null-id message is routed to
// the notification dispatcher rather than treated as an orphaned response.
func TestHandleMessageNotificationHasNoID(t *testing.T) {
	var gotMethod string
	var gotParams []json.RawMessage

	c := newTestClient()
	c.shutdown = make(chan struct{})
	c.handlers = &NotificationHandlers{
		OnUnknownNotification: func(method string, params []json.RawMessage) {
			gotMethod = method
			gotParams = params
		},
	}

	c.handleMessage([]byte(`{"id":null,"method":"somethingunrecognized","params":["a","b"]}`))

	assert.Equal(t, "somethingunrecognized", gotMethod)
	require.Len(t, gotParams, 2)
}

// TestHandleMessageRejectsFractionalID covers the precision guard: an id
// that cannot be represented as an integer without loss is dropped instead
// of silently truncated.
func TestHandleMessageRejectsFractionalID(t *testing.T) {
	c := newTestClient()
	c.shutdown = make(chan struct{})

	respChan := make(chan *response, 1)
	require.NoError(t, c.addRequest(&jsonRequest{id: 1, responseChan: respChan}))

	c.handleMessage([]byte(`{"id":1.5,"result":1,"error":null}`))

	select {
	case <-respChan:
		t.Fatal("fractional id must not be delivered to any reply channel")
	default:
	}
	assert.NotNil(t, c.requestMap[1])
}

// TestMaybeRecordNotificationRegistration ensures only a recognized
// registration method updates the notification state table.
func TestMaybeRecordNotificationRegistration(t *testing.T) {
	c := newTestClient()

	c.maybeRecordNotificationRegistration(methodNotifyBlocks, 9)
	assert.Equal(t, uint64(9), c.ntfnState[methodNotifyBlocks])

	c.maybeRecordNotificationRegistration("getblockcount", 3)
	_, ok := c.ntfnState["getblockcount"]
	assert.False(t, ok)
}

func TestIsDisconnectedLocked(t *testing.T) {
	c := newTestClient()
	assert.False(t, c.isDisconnectedLocked())

	c.setDisconnected(true)
	assert.True(t, c.isDisconnectedLocked())
}
