// Package custody defines the ports to the external systems that actually
// move assets. The ledger never holds keys itself; it instructs a custody
// gateway and treats any rejection as ErrTransferFailed.
package custody

import (
	"context"
	"fmt"
	"math/big"
)

// ErrTransferFailed wraps any rejection by the custody gateway.
var ErrTransferFailed = fmt.Errorf("transfer rejected by custody gateway")

// NFTCustody moves non-fungible assets.
type NFTCustody interface {
	TransferAsset(ctx context.Context, contract string, id int64, from, to string) error
}

// FundsCustody moves bid deposits in and refunds/proceeds out. The asset
// argument distinguishes the native currency (auctions.NativeAsset) from
// fungible token contracts; the gateway dispatches on it.
type FundsCustody interface {
	// TransferIn moves amount of asset from the bidder into ledger custody.
	TransferIn(ctx context.Context, asset, from string, amount *big.Int) error

	// TransferOut moves amount of asset from ledger custody to the recipient.
	TransferOut(ctx context.Context, asset, to string, amount *big.Int) error
}
