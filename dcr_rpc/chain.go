// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcr_rpc

import (
	"context"
	"encoding/json"

	"github.com/decred/dcrd/chaincfg/chainhash/v4"
	dcrdtypes "github.com/decred/dcrd/rpc/jsonrpc/types/v4"
)

// FutureGetBlockCountResult is a future promise to deliver the result of a
// GetBlockCountAsync RPC invocation (or an applicable error).
type FutureGetBlockCountResult chan *response

// Receive waits for the response promised by the future and returns the
// number of blocks in the longest block chain.
func (r FutureGetBlockCountResult) Receive() (int64, error) {
	res, err := receiveFuture(r)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := json.Unmarshal(res, &count); err != nil {
		return 0, errUnmarshaller(err)
	}
	return count, nil
}

// GetBlockCountAsync returns an instance of a type that can be used to get
// the result of the RPC at some future time by invoking the Receive
// function on the returned instance.
//
// See GetBlockCount for the blocking version and more details.
func (c *Client) GetBlockCountAsync(ctx context.Context) FutureGetBlockCountResult {
	return c.sendCmd(ctx, dcrdtypes.NewGetBlockCountCmd())
}

// GetBlockCount returns the number of blocks in the longest block chain.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	return c.GetBlockCountAsync(ctx).Receive()
}

// FutureGetBlockHashResult is a future promise to deliver the result of a
// GetBlockHashAsync RPC invocation (or an applicable error).
type FutureGetBlockHashResult chan *response

// Receive waits for the response promised by the future and returns the
// hash of the block in the best block chain at the given height.
func (r FutureGetBlockHashResult) Receive() (*chainhash.Hash, error) {
	res, err := receiveFuture(r)
	if err != nil {
		return nil, err
	}

	var hashStr string
	if err := json.Unmarshal(res, &hashStr); err != nil {
		return nil, errUnmarshaller(err)
	}

	hash, err := chainhash.NewHashFromStr(hashStr)
	if err != nil {
		return nil, errUnmarshaller(err)
	}
	return hash, nil
}

// GetBlockHashAsync returns an instance of a type that can be used to get
// the result of the RPC at some future time by invoking the Receive
// function on the returned instance.
//
// See GetBlockHash for the blocking version and more details.
func (c *Client) GetBlockHashAsync(ctx context.Context, blockHeight int64) FutureGetBlockHashResult {
	return c.sendCmd(ctx, dcrdtypes.NewGetBlockHashCmd(blockHeight))
}

// GetBlockHash returns the hash of the block in the best block chain at
// the given height.
func (c *Client) GetBlockHash(ctx context.Context, blockHeight int64) (*chainhash.Hash, error) {
	return c.GetBlockHashAsync(ctx, blockHeight).Receive()
}

// FutureGetBlockChainInfoResult is a future promise to deliver the result
// of a GetBlockChainInfoAsync RPC invocation (or an applicable error).
type FutureGetBlockChainInfoResult chan *response

// Receive waits for the response promised by the future and returns
// information related to the processing state of the blockchain.
func (r FutureGetBlockChainInfoResult) Receive() (*dcrdtypes.GetBlockChainInfoResult, error) {
	res, err := receiveFuture(r)
	if err != nil {
		return nil, err
	}

	var info dcrdtypes.GetBlockChainInfoResult
	if err := json.Unmarshal(res, &info); err != nil {
		return nil, errUnmarshaller(err)
	}
	return &info, nil
}

// GetBlockChainInfoAsync returns an instance of a type that can be used to
// get the result of the RPC at some future time by invoking the Receive
// function on the returned instance.
//
// See GetBlockChainInfo for the blocking version and more details.
func (c *Client) GetBlockChainInfoAsync(ctx context.Context) FutureGetBlockChainInfoResult {
	return c.sendCmd(ctx, dcrdtypes.NewGetBlockChainInfoCmd())
}

// GetBlockChainInfo returns information related to the processing state of
// the blockchain.
func (c *Client) GetBlockChainInfo(ctx context.Context) (*dcrdtypes.GetBlockChainInfoResult, error) {
	return c.GetBlockChainInfoAsync(ctx).Receive()
}
