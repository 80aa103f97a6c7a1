package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openlots/lotledger/internal/domain/admin"
	"github.com/openlots/lotledger/internal/domain/auctions"
	"github.com/openlots/lotledger/internal/domain/bids"
	"github.com/openlots/lotledger/internal/domain/custody"
	"github.com/openlots/lotledger/internal/domain/pricing"
	"github.com/openlots/lotledger/internal/domain/settlement"
)

func TestWriteDomainError(t *testing.T) {
	h := &Handler{logger: slog.Default()}

	tests := []struct {
		err  error
		want int
	}{
		{err: auctions.ErrNotFound, want: http.StatusNotFound},
		{err: admin.ErrUnauthorized, want: http.StatusForbidden},
		{err: bids.ErrSellerCannotBid, want: http.StatusForbidden},
		{err: admin.ErrAlreadyInitialized, want: http.StatusConflict},
		{err: auctions.ErrAlreadyEnded, want: http.StatusConflict},
		{err: bids.ErrAuctionExpired, want: http.StatusConflict},
		{err: bids.ErrBidTooLow, want: http.StatusConflict},
		{err: settlement.ErrNotExpired, want: http.StatusConflict},
		{err: auctions.ErrInvalidDuration, want: http.StatusUnprocessableEntity},
		{err: auctions.ErrReserveTooLow, want: http.StatusUnprocessableEntity},
		{err: bids.ErrInvalidAmount, want: http.StatusUnprocessableEntity},
		{err: pricing.ErrAssetNotSupported, want: http.StatusUnprocessableEntity},
		{err: pricing.ErrStaleFeed, want: http.StatusUnprocessableEntity},
		{err: custody.ErrTransferFailed, want: http.StatusBadGateway},
		{err: errors.New("database on fire"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)

			h.writeDomainError(rec, req, tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("wrapped errors unwrap to their status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		wrapped := errors.Join(errors.New("context"), bids.ErrBidTooLow)
		h.writeDomainError(rec, req, wrapped)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
