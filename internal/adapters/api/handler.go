package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openlots/lotledger/internal/domain/admin"
	"github.com/openlots/lotledger/internal/domain/auctions"
	"github.com/openlots/lotledger/internal/domain/bids"
	"github.com/openlots/lotledger/internal/domain/custody"
	"github.com/openlots/lotledger/internal/domain/escrow"
	"github.com/openlots/lotledger/internal/domain/pricing"
	"github.com/openlots/lotledger/internal/domain/settlement"
	"github.com/openlots/lotledger/pkg/auth"
)

// Handler exposes the ledger over HTTP. It is a thin entry point: every
// operation delegates to a domain service and maps its sentinel errors onto
// status codes.
type Handler struct {
	auctionService    *auctions.Service
	bidService        *bids.Service
	settlementService *settlement.Service
	feedRegistry      *pricing.Registry
	adminService      *admin.Service
	logger            *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	auctionService *auctions.Service,
	bidService *bids.Service,
	settlementService *settlement.Service,
	feedRegistry *pricing.Registry,
	adminService *admin.Service,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		auctionService:    auctionService,
		bidService:        bidService,
		settlementService: settlementService,
		feedRegistry:      feedRegistry,
		adminService:      adminService,
		logger:            logger,
	}
}

type createAuctionRequest struct {
	Seller          string `json:"seller"`
	DurationSeconds int64  `json:"duration_seconds"`
	ReservePrice    string `json:"reserve_price"`
	AssetContract   string `json:"asset_contract"`
	AssetID         int64  `json:"asset_id"`
}

type auctionResponse struct {
	ID               int64      `json:"id"`
	Seller           string     `json:"seller"`
	AssetContract    string     `json:"asset_contract"`
	AssetID          int64      `json:"asset_id"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          time.Time  `json:"end_time"`
	ReservePrice     string     `json:"reserve_price"`
	HighestBidder    string     `json:"highest_bidder,omitempty"`
	HighestBid       string     `json:"highest_bid"`
	HighestBidAsset  string     `json:"highest_bid_asset,omitempty"`
	HighestBidAmount string     `json:"highest_bid_amount"`
	Ended            bool       `json:"ended"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

func toAuctionResponse(a *auctions.Auction) auctionResponse {
	return auctionResponse{
		ID:               a.ID,
		Seller:           a.Seller,
		AssetContract:    a.AssetContract,
		AssetID:          a.AssetID,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		ReservePrice:     a.ReservePrice.String(),
		HighestBidder:    a.HighestBidder,
		HighestBid:       a.HighestBid.String(),
		HighestBidAsset:  a.HighestBidAsset,
		HighestBidAmount: a.HighestBidAmount.String(),
		Ended:            a.Ended,
		SettledAt:        a.SettledAt,
	}
}

// CreateAuction handles POST /api/auctions.
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	reserve, ok := new(big.Int).SetString(req.ReservePrice, 10)
	if !ok {
		h.writeError(w, r, http.StatusBadRequest, "reserve_price must be a decimal integer string")
		return
	}

	auction, err := h.auctionService.Create(r.Context(), auctions.CreateAuctionCommand{
		Seller:        req.Seller,
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
		ReservePrice:  reserve,
		AssetContract: req.AssetContract,
		AssetID:       req.AssetID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toAuctionResponse(auction))
}

// GetAuction handles GET /api/auctions/{id}.
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid auction id")
		return
	}

	auction, err := h.auctionService.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toAuctionResponse(auction))
}

type placeBidRequest struct {
	Bidder string `json:"bidder"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type placeBidResponse struct {
	AuctionID int64     `json:"auction_id"`
	Bidder    string    `json:"bidder"`
	Asset     string    `json:"asset"`
	Amount    string    `json:"amount"`
	Value     string    `json:"value"`
	PlacedAt  time.Time `json:"placed_at"`
}

// PlaceBid handles POST /api/auctions/{id}/bids.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid auction id")
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		h.writeError(w, r, http.StatusBadRequest, "amount must be a decimal integer string")
		return
	}

	bid, err := h.bidService.PlaceBid(r.Context(), bids.PlaceBidCommand{
		AuctionID: id,
		Bidder:    req.Bidder,
		Asset:     req.Asset,
		Amount:    amount,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, placeBidResponse{
		AuctionID: bid.AuctionID,
		Bidder:    bid.Bidder,
		Asset:     bid.Asset,
		Amount:    bid.Amount.String(),
		Value:     bid.Value.String(),
		PlacedAt:  bid.PlacedAt,
	})
}

// EndAuction handles POST /api/auctions/{id}/end. Deliberately unauthenticated:
// settlement is permissionless and its effects depend only on stored state.
func (h *Handler) EndAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid auction id")
		return
	}

	if err := h.settlementService.EndAuction(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	auction, err := h.auctionService.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAuctionResponse(auction))
}

type issueTokenRequest struct {
	Secret string `json:"secret"`
}

type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
}

// IssueToken handles POST /api/admin/token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.adminService.IssueToken(r.Context(), req.Secret)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, issueTokenResponse{AccessToken: token})
}

type registerFeedRequest struct {
	FeedURL       string `json:"feed_url"`
	AssetDecimals int32  `json:"asset_decimals"`
}

// RegisterFeed handles PUT /api/admin/feeds/{asset}. The caller identity
// comes from the verified admin token.
func (h *Handler) RegisterFeed(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		h.writeError(w, r, http.StatusUnauthorized, "missing caller identity")
		return
	}

	asset := chi.URLParam(r, "asset")

	var req registerFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.feedRegistry.RegisterFeed(r.Context(), caller, asset, req.FeedURL, req.AssetDecimals); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type feedResponse struct {
	Asset         string `json:"asset"`
	FeedURL       string `json:"feed_url"`
	AssetDecimals int32  `json:"asset_decimals"`
}

// ListFeeds handles GET /api/admin/feeds.
func (h *Handler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	regs, err := h.feedRegistry.ListFeeds(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]feedResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, feedResponse{
			Asset:         reg.Asset,
			FeedURL:       reg.FeedURL,
			AssetDecimals: reg.AssetDecimals,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func auctionID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, _ *http.Request, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps sentinel errors onto HTTP status codes. Conflict-class
// statuses mark conditions a caller can reason about and possibly retry;
// unprocessable marks bids that can never succeed as submitted.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auctions.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, admin.ErrUnauthorized), errors.Is(err, bids.ErrSellerCannotBid):
		h.writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, admin.ErrAlreadyInitialized),
		errors.Is(err, auctions.ErrAlreadyEnded),
		errors.Is(err, bids.ErrAuctionExpired),
		errors.Is(err, bids.ErrBidTooLow),
		errors.Is(err, settlement.ErrNotExpired):
		h.writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auctions.ErrInvalidDuration),
		errors.Is(err, auctions.ErrReserveTooLow),
		errors.Is(err, bids.ErrInvalidAmount),
		errors.Is(err, pricing.ErrAssetNotSupported),
		errors.Is(err, pricing.ErrStaleFeed),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, escrow.ErrNoEscrow):
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, custody.ErrTransferFailed):
		h.writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("unhandled domain error", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
