package testhelpers

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlots/lotledger/internal/domain/pricing"
)

func TestStaticFeedSource_UnknownAsset(t *testing.T) {
	source := &StaticFeedSource{Quotes: map[string]*pricing.Quote{
		"0xknown": {Price: big.NewInt(1), UpdatedAt: time.Now()},
	}}

	quote, err := source.GetPrice(context.Background(), &pricing.Registration{Asset: "0xknown"})
	require.NoError(t, err)
	assert.NotNil(t, quote)

	// An asset without a configured quote fails loudly instead of handing a
	// nil quote to the caller.
	quote, err = source.GetPrice(context.Background(), &pricing.Registration{Asset: "0xunknown"})
	require.Error(t, err)
	assert.Nil(t, quote)
	assert.Contains(t, err.Error(), "0xunknown")
}
