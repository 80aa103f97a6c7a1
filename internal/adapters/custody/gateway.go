// Package custody implements the domain custody ports against an HTTP
// custody gateway, the external service that holds keys and actually signs
// and submits transfers.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/openlots/lotledger/internal/domain/custody"
)

// Gateway is an HTTP client for the custody gateway. It implements both
// custody.NFTCustody and custody.FundsCustody.
type Gateway struct {
	baseURL string
	client  *http.Client
}

// NewGateway creates a custody gateway client.
func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type assetTransferRequest struct {
	Contract string `json:"contract"`
	ID       int64  `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type fundsTransferRequest struct {
	Asset  string `json:"asset"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Amount string `json:"amount"`
}

// TransferAsset moves a non-fungible asset between parties.
func (g *Gateway) TransferAsset(ctx context.Context, contract string, id int64, from, to string) error {
	return g.post(ctx, "/transfers/asset", assetTransferRequest{
		Contract: contract,
		ID:       id,
		From:     from,
		To:       to,
	})
}

// TransferIn moves a deposit from the bidder into ledger custody.
func (g *Gateway) TransferIn(ctx context.Context, asset, from string, amount *big.Int) error {
	return g.post(ctx, "/transfers/in", fundsTransferRequest{
		Asset:  asset,
		From:   from,
		Amount: amount.String(),
	})
}

// TransferOut pays out of ledger custody to a recipient.
func (g *Gateway) TransferOut(ctx context.Context, asset, to string, amount *big.Int) error {
	return g.post(ctx, "/transfers/out", fundsTransferRequest{
		Asset:  asset,
		To:     to,
		Amount: amount.String(),
	})
}

// post submits one transfer instruction. Any rejection, transport failure or
// a non-2xx status, surfaces as custody.ErrTransferFailed so callers can
// roll back uniformly.
func (g *Gateway) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", custody.ErrTransferFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: gateway returned %d: %s", custody.ErrTransferFailed, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
