package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	MaxSignatureLimit = 1000
	MaxStatusBatch    = 256
	maxErrorBodyBytes = 512
)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
// It performs exactly one attempt per call; retries belong to RateLimitedClient.
type HTTPClient struct {
	endpoint   string
	client     *http.Client
	commitment string
	requestID  atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithCommitment sets the commitment level sent with reads.
func WithCommitment(commitment string) ClientOption {
	return func(c *HTTPClient) {
		c.commitment = commitment
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultTimeout},
		commitment: "confirmed",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ RPCClient = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a single JSON-RPC call.
// Non-200 responses are reported as "http status <code>: <body>" so the
// error classifier can match on the status and the provider's message.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d: %s", resp.StatusCode, truncate(string(respBody), maxErrorBodyBytes))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: unmarshal result: %v", ErrMalformedResponse, err)
		}
	}

	return nil
}

// GetTransaction retrieves a transaction by signature with jsonParsed encoding.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result *getTransactionResult
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	return result.toTransaction(signature), nil
}

// GetSignaturesForAddress retrieves signatures for an address with pagination.
func (c *HTTPClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	config := map[string]interface{}{
		"commitment": c.commitment,
	}
	if opts != nil {
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
		if opts.Limit > 0 {
			limit := opts.Limit
			if limit > MaxSignatureLimit {
				limit = MaxSignatureLimit
			}
			config["limit"] = limit
		}
	}

	var result []getSignaturesResult
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, config}, &result); err != nil {
		return nil, err
	}

	sigs := make([]SignatureInfo, len(result))
	for i, r := range result {
		sigs[i] = SignatureInfo{
			Signature: r.Signature,
			Slot:      r.Slot,
			BlockTime: r.BlockTime,
			Err:       r.Err,
		}
	}

	return sigs, nil
}

// GetSignatureStatuses retrieves statuses for up to MaxStatusBatch signatures.
func (c *HTTPClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	if len(signatures) == 0 {
		return nil, nil
	}
	if len(signatures) > MaxStatusBatch {
		return nil, fmt.Errorf("getSignatureStatuses: %d signatures exceeds batch limit %d", len(signatures), MaxStatusBatch)
	}

	params := []interface{}{
		signatures,
		map[string]interface{}{"searchTransactionHistory": true},
	}

	var result getSignatureStatusesResult
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}

	statuses := make([]*SignatureStatus, len(signatures))
	for i, v := range result.Value {
		if i >= len(statuses) || v == nil {
			continue
		}
		statuses[i] = &SignatureStatus{
			Slot:               v.Slot,
			Confirmations:      v.Confirmations,
			Err:                v.Err,
			ConfirmationStatus: v.ConfirmationStatus,
		}
	}
	return statuses, nil
}

// getSignaturesResult is the raw RPC response item for getSignaturesForAddress.
type getSignaturesResult struct {
	Signature string      `json:"signature"`
	Slot      int64       `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

type getSignatureStatusesResult struct {
	Value []*getSignatureStatusValue `json:"value"`
}

type getSignatureStatusValue struct {
	Slot               int64       `json:"slot"`
	Confirmations      *int64      `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// getTransactionResult is the raw jsonParsed RPC response for getTransaction.
type getTransactionResult struct {
	Slot        int64               `json:"slot"`
	BlockTime   *int64              `json:"blockTime"`
	Meta        *getTransactionMeta `json:"meta"`
	Transaction *getTransactionTx   `json:"transaction"`
}

type getTransactionMeta struct {
	Err               interface{}       `json:"err"`
	Fee               uint64            `json:"fee"`
	PreBalances       []uint64          `json:"preBalances"`
	PostBalances      []uint64          `json:"postBalances"`
	PreTokenBalances  []rawTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []rawTokenBalance `json:"postTokenBalances"`
	InnerInstructions []rawInnerIxGroup `json:"innerInstructions"`
	LogMessages       []string          `json:"logMessages"`
}

type rawTokenBalance struct {
	AccountIndex  int              `json:"accountIndex"`
	Mint          string           `json:"mint"`
	Owner         string           `json:"owner"`
	ProgramID     string           `json:"programId"`
	UITokenAmount rawUITokenAmount `json:"uiTokenAmount"`
}

type rawUITokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       int32  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

func (a *rawUITokenAmount) toUITokenAmount() UITokenAmount {
	return UITokenAmount{
		Amount:         a.Amount,
		Decimals:       a.Decimals,
		UIAmountString: a.UIAmountString,
	}
}

type rawInnerIxGroup struct {
	Index        int              `json:"index"`
	Instructions []rawInstruction `json:"instructions"`
}

type getTransactionTx struct {
	Signatures []string               `json:"signatures"`
	Message    *getTransactionMessage `json:"message"`
}

type getTransactionMessage struct {
	AccountKeys  []accountKey     `json:"accountKeys"`
	Instructions []rawInstruction `json:"instructions"`
}

// accountKey accepts both the plain string form and the jsonParsed object form.
type accountKey string

func (k *accountKey) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = accountKey(s)
		return nil
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*k = accountKey(obj.Pubkey)
	return nil
}

type rawInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

type rawParsed struct {
	Type string        `json:"type"`
	Info rawParsedInfo `json:"info"`
}

type rawParsedInfo struct {
	Source            string            `json:"source"`
	Destination       string            `json:"destination"`
	Authority         string            `json:"authority"`
	MultisigAuthority string            `json:"multisigAuthority"`
	Mint              string            `json:"mint"`
	Lamports          uint64            `json:"lamports"`
	Amount            json.RawMessage   `json:"amount"`
	TokenAmount       *rawUITokenAmount `json:"tokenAmount"`
}

// toInstruction converts a raw instruction. Instructions whose "parsed" field is
// absent or a plain string (memo) keep only their program identity.
func (r *rawInstruction) toInstruction(inner bool) Instruction {
	ix := Instruction{
		ProgramID: r.ProgramID,
		Program:   r.Program,
		Inner:     inner,
	}
	if len(r.Parsed) == 0 || r.Parsed[0] != '{' {
		return ix
	}

	var p rawParsed
	if err := json.Unmarshal(r.Parsed, &p); err != nil {
		return ix
	}

	ix.Type = p.Type
	ix.Info = InstructionInfo{
		Source:            p.Info.Source,
		Destination:       p.Info.Destination,
		Authority:         p.Info.Authority,
		MultisigAuthority: p.Info.MultisigAuthority,
		Mint:              p.Info.Mint,
		Lamports:          p.Info.Lamports,
		Amount:            strings.Trim(string(p.Info.Amount), `"`),
	}
	if p.Info.TokenAmount != nil {
		amt := p.Info.TokenAmount.toUITokenAmount()
		ix.Info.TokenAmount = &amt
	}
	return ix
}

func (r *getTransactionResult) toTransaction(signature string) *Transaction {
	tx := &Transaction{
		Slot:      r.Slot,
		Signature: signature,
	}
	if r.BlockTime != nil {
		tx.BlockTime = *r.BlockTime
	}

	if r.Meta != nil {
		meta := &TransactionMeta{
			Err:          r.Meta.Err,
			Fee:          r.Meta.Fee,
			PreBalances:  r.Meta.PreBalances,
			PostBalances: r.Meta.PostBalances,
			LogMessages:  r.Meta.LogMessages,
		}
		for _, b := range r.Meta.PreTokenBalances {
			meta.PreTokenBalances = append(meta.PreTokenBalances, b.toTokenBalance())
		}
		for _, b := range r.Meta.PostTokenBalances {
			meta.PostTokenBalances = append(meta.PostTokenBalances, b.toTokenBalance())
		}
		tx.Meta = meta
	}

	if r.Transaction != nil && r.Transaction.Message != nil {
		msg := &TransactionMessage{}
		for _, k := range r.Transaction.Message.AccountKeys {
			msg.AccountKeys = append(msg.AccountKeys, string(k))
		}
		for i := range r.Transaction.Message.Instructions {
			msg.Instructions = append(msg.Instructions, r.Transaction.Message.Instructions[i].toInstruction(false))
		}
		if r.Meta != nil {
			for _, group := range r.Meta.InnerInstructions {
				for i := range group.Instructions {
					msg.Instructions = append(msg.Instructions, group.Instructions[i].toInstruction(true))
				}
			}
		}
		tx.Message = msg
	}

	return tx
}

func (b rawTokenBalance) toTokenBalance() TokenBalance {
	return TokenBalance{
		AccountIndex:  b.AccountIndex,
		Mint:          b.Mint,
		Owner:         b.Owner,
		ProgramID:     b.ProgramID,
		UITokenAmount: b.UITokenAmount.toUITokenAmount(),
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
