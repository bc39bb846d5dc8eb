package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type rpcReq struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// jsonRPCServer answers single (non-batch) JSON-RPC calls from a method table.
func jsonRPCServer(t *testing.T, handle func(method string, params []json.RawMessage) (any, *rpcErr)) (*httptest.Server, func() []string) {
	t.Helper()

	var (
		mu      sync.Mutex
		methods []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		methods = append(methods, req.Method)
		mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		result, rerr := handle(req.Method, req.Params)
		if rerr != nil {
			resp["error"] = rerr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), methods...)
	}
	return srv, seen
}

func TestRPCWallet_ForwardsRequests(t *testing.T) {
	srv, _ := jsonRPCServer(t, func(method string, _ []json.RawMessage) (any, *rpcErr) {
		switch method {
		case MethodRequestAccounts:
			return []string{"0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1"}, nil
		default:
			return nil, &rpcErr{Code: CodeMethodNotFound, Message: "nope"}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := DialRPC(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("DialRPC: %v", err)
	}
	defer w.Close()

	accts, err := RequestAccounts(ctx, w)
	if err != nil {
		t.Fatalf("RequestAccounts: %v", err)
	}
	if len(accts) != 1 || accts[0].Hex() != "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1" {
		t.Fatalf("accounts: %v", accts)
	}
}

func TestRPCWallet_RequestAccountsFallsBackToAccounts(t *testing.T) {
	srv, methods := jsonRPCServer(t, func(method string, _ []json.RawMessage) (any, *rpcErr) {
		switch method {
		case MethodAccounts:
			return []string{"0x0000000000000000000000000000000000000009"}, nil
		default:
			return nil, &rpcErr{Code: CodeMethodNotFound, Message: "the method " + method + " does not exist/is not available"}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := DialRPC(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("DialRPC: %v", err)
	}
	defer w.Close()

	accts, err := RequestAccounts(ctx, w)
	if err != nil {
		t.Fatalf("RequestAccounts: %v", err)
	}
	if len(accts) != 1 {
		t.Fatalf("accounts: %v", accts)
	}
	if got := methods(); len(got) != 2 || got[0] != MethodRequestAccounts || got[1] != MethodAccounts {
		t.Fatalf("methods: %v", got)
	}
}

func TestRPCWallet_SurfacesUserRejection(t *testing.T) {
	srv, _ := jsonRPCServer(t, func(string, []json.RawMessage) (any, *rpcErr) {
		return nil, &rpcErr{Code: CodeUserRejected, Message: "User rejected the request."}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := DialRPC(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("DialRPC: %v", err)
	}
	defer w.Close()

	_, err = SendTransaction(ctx, w, TxArgs{To: "0x0000000000000000000000000000000000000001"})
	if !IsUserRejected(err) {
		t.Fatalf("expected user rejection, got %v", err)
	}
}

func TestDialRPC_RejectsEmptyURL(t *testing.T) {
	if _, err := DialRPC(context.Background(), " ", nil); err == nil {
		t.Fatalf("expected error")
	}
}
