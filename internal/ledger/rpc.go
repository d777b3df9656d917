package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"spaces-summarizer/internal/models"
)

// RPCClient is a minimal Solana JSON-RPC reader. Only the two read
// methods the verifier needs are implemented.
type RPCClient struct {
	url        string
	httpClient *http.Client
}

func NewRPCClient(url string, timeout time.Duration) *RPCClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// SignatureStatus is the commitment status of a transaction signature.
// A nil return means the ledger has no record of the signature.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// Finalized reports whether the cluster has finalized the transaction.
func (s *SignatureStatus) Finalized() bool {
	return s.ConfirmationStatus == "finalized"
}

// Failed reports whether the transaction errored on chain.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

type tokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

// TransactionResult carries the subset of getTransaction output needed
// to reconstruct an SPL token transfer.
type TransactionResult struct {
	BlockTime *int64 `json:"blockTime"`
	Meta      struct {
		Err               json.RawMessage `json:"err"`
		PreTokenBalances  []tokenBalance  `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance  `json:"postTokenBalances"`
	} `json:"meta"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.TransientError{Err: fmt.Errorf("rpc %s: %w", method, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &models.TransientError{Err: fmt.Errorf("rpc %s: %s", method, resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: unexpected status %s", method, resp.Status)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc %s: %d %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("unmarshal rpc result: %w", err)
		}
	}
	return nil
}

// SignatureStatus looks up the signature, searching full transaction
// history. Returns nil when the ledger does not know the signature.
func (c *RPCClient) SignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": true},
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

// Transaction fetches finalized transfer details for the signature.
// Returns nil when the transaction is not available at finalized
// commitment.
func (c *RPCClient) Transaction(ctx context.Context, signature string) (*TransactionResult, error) {
	var result *TransactionResult
	params := []any{
		signature,
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     "finalized",
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// TokenTransfer reconstructs the SPL transfer of the given mint from the
// pre/post token balances: the sender is the owner whose balance
// decreased, the recipient the owner whose balance increased.
func (t *TransactionResult) TokenTransfer(mint string) (sender, recipient string, amount uint64, ok bool) {
	pre := map[string]int64{}
	for _, b := range t.Meta.PreTokenBalances {
		if b.Mint != mint {
			continue
		}
		v, err := strconv.ParseInt(b.UITokenAmount.Amount, 10, 64)
		if err != nil {
			return "", "", 0, false
		}
		pre[b.Owner] += v
	}
	deltas := map[string]int64{}
	for _, b := range t.Meta.PostTokenBalances {
		if b.Mint != mint {
			continue
		}
		v, err := strconv.ParseInt(b.UITokenAmount.Amount, 10, 64)
		if err != nil {
			return "", "", 0, false
		}
		deltas[b.Owner] += v
	}
	for owner, v := range pre {
		deltas[owner] -= v
	}
	for owner, d := range deltas {
		switch {
		case d > 0:
			recipient = owner
			amount = uint64(d)
		case d < 0:
			sender = owner
		}
	}
	ok = sender != "" && recipient != "" && amount > 0
	return sender, recipient, amount, ok
}
