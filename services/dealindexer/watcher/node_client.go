package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ErrDealNotFound is returned when the node does not know a deal id.
var ErrDealNotFound = errors.New("node: deal not found")

const codeNotFound = -32004

// NodeClient is the subset of the node JSON-RPC API the watcher uses.
type NodeClient interface {
	FetchEvents(ctx context.Context, afterSeq int64, limit int) ([]NodeEvent, error)
	GetDeal(ctx context.Context, id uint64) (*NodeDeal, error)
}

// NodeEvent mirrors a committed journal record.
type NodeEvent struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Period     uint64            `json:"period"`
	Thread     uint8             `json:"thread"`
	TxHash     string            `json:"txHash"`
	Timestamp  int64             `json:"timestamp"`
}

// NodeDeal is the node's JSON view of a deal.
type NodeDeal struct {
	ID           uint64 `json:"id"`
	Client       string `json:"client"`
	Freelancer   string `json:"freelancer"`
	AssetType    string `json:"assetType"`
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	DeadlineSlot uint64 `json:"deadlineSlot"`
	Mode         string `json:"mode"`
	Status       string `json:"status"`
	CreatedSlot  uint64 `json:"createdSlot"`
	Note         string `json:"note"`
}

// RPCNodeClient implements NodeClient against the safedeald JSON-RPC server.
type RPCNodeClient struct {
	baseURL string
	http    *http.Client
	nextID  atomic.Int64
}

func NewRPCNodeClient(baseURL string, timeout time.Duration) *RPCNodeClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCNodeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *jsonRPCErrorObj) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCNodeClient) FetchEvents(ctx context.Context, afterSeq int64, limit int) ([]NodeEvent, error) {
	params := map[string]interface{}{
		"after": afterSeq,
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var result []NodeEvent
	if err := c.call(ctx, "events_since", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCNodeClient) GetDeal(ctx context.Context, id uint64) (*NodeDeal, error) {
	var result NodeDeal
	if err := c.call(ctx, "safedeal_getDeal", []interface{}{id}, &result); err != nil {
		var rpcErr *jsonRPCErrorObj
		if errors.As(err, &rpcErr) && rpcErr.Code == codeNotFound {
			return nil, fmt.Errorf("%w: %d", ErrDealNotFound, id)
		}
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("node rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rpc %s failed: status=%d", method, resp.StatusCode)
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}
