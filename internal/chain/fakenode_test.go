package chain

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// callHandler answers one contract method with its unpacked inputs.
type callHandler func(args []interface{}) ([]interface{}, error)

// fakeNode is an eth_call-only JSON-RPC node serving ABI-encoded answers.
type fakeNode struct {
	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[common.Address]map[string]callHandler
	abis     map[common.Address]abi.ABI
	calls    int
	status   int
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{
		t:        t,
		handlers: make(map[common.Address]map[string]callHandler),
		abis:     make(map[common.Address]abi.ABI),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) handle(addr common.Address, contractABI abi.ABI, method string, h callHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handlers[addr] == nil {
		n.handlers[addr] = make(map[string]callHandler)
	}
	n.handlers[addr][method] = h
	n.abis[addr] = contractABI
}

func (n *fakeNode) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{RPCURL: n.server.URL, MaxRetries: -1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	n.calls++
	status := n.status
	n.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		n.t.Errorf("decode request: %v", err)
		return
	}
	if req.Method != "eth_call" {
		writeRPC(w, req.ID, nil, &RPCError{Code: -32601, Message: "method not found"})
		return
	}

	var msg callMsg
	if err := json.Unmarshal(req.Params[0], &msg); err != nil {
		n.t.Errorf("decode call: %v", err)
		return
	}
	data, err := hexutil.Decode(msg.Data)
	if err != nil || len(data) < 4 {
		writeRPC(w, req.ID, nil, &RPCError{Code: -32602, Message: "bad data"})
		return
	}
	to := common.HexToAddress(msg.To)

	n.mu.Lock()
	contractABI, ok := n.abis[to]
	handlers := n.handlers[to]
	n.mu.Unlock()
	if !ok {
		// No code at address: eth_call returns empty data.
		writeRPC(w, req.ID, "0x", nil)
		return
	}

	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		writeRPC(w, req.ID, nil, &RPCError{Code: 3, Message: "execution reverted"})
		return
	}
	h, ok := handlers[method.Name]
	if !ok {
		writeRPC(w, req.ID, nil, &RPCError{Code: 3, Message: "execution reverted"})
		return
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		n.t.Errorf("unpack inputs: %v", err)
		return
	}
	outs, err := h(args)
	if err != nil {
		writeRPC(w, req.ID, nil, &RPCError{Code: 3, Message: err.Error()})
		return
	}
	packed, err := method.Outputs.Pack(outs...)
	if err != nil {
		n.t.Errorf("pack outputs for %s: %v", method.Name, err)
		return
	}
	writeRPC(w, req.ID, hexutil.Encode(packed), nil)
}

func writeRPC(w http.ResponseWriter, id uint64, result interface{}, rpcErr *RPCError) {
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
