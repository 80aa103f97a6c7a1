package testhelpers

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/openlots/lotledger/internal/domain/custody"
	"github.com/openlots/lotledger/internal/domain/pricing"
)

// Transfer records one instruction sent to the fake custody gateway.
type Transfer struct {
	Kind     string // "in", "out", or "asset"
	Asset    string
	Party    string // counterparty: from for "in", to for "out"
	Amount   *big.Int
	Contract string
	TokenID  int64
	From     string
	To       string
}

// FakeCustody implements the custody ports in memory, recording every
// transfer. Failure flags make the next matching call reject.
type FakeCustody struct {
	mu        sync.Mutex
	Transfers []Transfer

	FailTransferIn    bool
	FailTransferOut   bool
	FailTransferAsset bool
}

func (f *FakeCustody) TransferIn(_ context.Context, asset, from string, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTransferIn {
		return custody.ErrTransferFailed
	}
	f.Transfers = append(f.Transfers, Transfer{Kind: "in", Asset: asset, Party: from, Amount: new(big.Int).Set(amount)})
	return nil
}

func (f *FakeCustody) TransferOut(_ context.Context, asset, to string, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTransferOut {
		return custody.ErrTransferFailed
	}
	f.Transfers = append(f.Transfers, Transfer{Kind: "out", Asset: asset, Party: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (f *FakeCustody) TransferAsset(_ context.Context, contract string, id int64, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTransferAsset {
		return custody.ErrTransferFailed
	}
	f.Transfers = append(f.Transfers, Transfer{Kind: "asset", Contract: contract, TokenID: id, From: from, To: to})
	return nil
}

// ByKind returns the recorded transfers of one kind, in order.
func (f *FakeCustody) ByKind(kind string) []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Transfer
	for _, tr := range f.Transfers {
		if tr.Kind == kind {
			out = append(out, tr)
		}
	}
	return out
}

// StaticFeedSource implements pricing.FeedSource from a fixed quote per
// asset.
type StaticFeedSource struct {
	Quotes map[string]*pricing.Quote
	Err    error
}

func (s *StaticFeedSource) GetPrice(_ context.Context, reg *pricing.Registration) (*pricing.Quote, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	quote, ok := s.Quotes[reg.Asset]
	if !ok {
		return nil, fmt.Errorf("no quote configured for asset %s", reg.Asset)
	}
	return quote, nil
}
