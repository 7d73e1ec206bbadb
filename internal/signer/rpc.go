package signer

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RPCReader fetches bytecode over JSON-RPC (eth_getCode).
type RPCReader struct {
	http *resty.Client
}

// NewRPCReader creates a reader against the given RPC endpoint.
func NewRPCReader(endpoint string) *RPCReader {
	return &RPCReader{
		http: resty.New().
			SetBaseURL(endpoint).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CodeAt returns the deployed bytecode at address, or nil for an externally
// owned account.
func (r *RPCReader) CodeAt(ctx context.Context, address string) ([]byte, error) {
	var out rpcResponse
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{
			JSONRPC: "2.0",
			ID:      1,
			Method:  "eth_getCode",
			Params:  []any{address, "latest"},
		}).
		SetResult(&out).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("eth_getCode: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("eth_getCode: http %d", resp.StatusCode())
	}
	if out.Error != nil {
		return nil, fmt.Errorf("eth_getCode: rpc %d: %s", out.Error.Code, out.Error.Message)
	}

	raw := strings.TrimPrefix(out.Result, "0x")
	if raw == "" {
		return nil, nil
	}
	code, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("eth_getCode: decode result: %w", err)
	}
	return code, nil
}
