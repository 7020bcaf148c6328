package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/auction"
	"github.com/gavelworks/gaveld/internal/domain"
	"github.com/gavelworks/gaveld/internal/service"
)

type fakeBidService struct {
	got auction.BidRequest
	res service.BidResult
	err error
}

func (f *fakeBidService) PlaceBid(_ context.Context, req auction.BidRequest) (service.BidResult, error) {
	f.got = req
	return f.res, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postBid(t *testing.T, h *BidHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/bids", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.PlaceBid(rec, req)
	return rec
}

func TestPlaceBidSuccess(t *testing.T) {
	fake := &fakeBidService{
		res: service.BidResult{
			Listing: domain.Listing{ID: "lst_1", CurrentPrice: decimal.RequireFromString("120")},
		},
	}
	h := NewBidHandler(fake, testLogger())

	rec := postBid(t, h, `{"listing_id":"lst_1","bidder_id":"usr_2","amount":"120","max_price":"200"}`)

	check.Equal(t, http.StatusCreated, rec.Code)
	check.Equal(t, "lst_1", fake.got.ListingID)
	check.Equal(t, "usr_2", fake.got.BidderID)
	check.True(t, fake.got.Amount.Equal(decimal.RequireFromString("120")))
	assert.NotNil(t, fake.got.MaxPrice)
	check.True(t, fake.got.MaxPrice.Equal(decimal.RequireFromString("200")))

	var body struct {
		Listing domain.Listing `json:"listing"`
	}
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	check.Equal(t, "lst_1", body.Listing.ID)
}

func TestPlaceBidRejectsMalformedBody(t *testing.T) {
	h := NewBidHandler(&fakeBidService{}, testLogger())

	rec := postBid(t, h, `{"listing_id":`)
	check.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceBidRejectsUnknownFields(t *testing.T) {
	h := NewBidHandler(&fakeBidService{}, testLogger())

	rec := postBid(t, h, `{"listing_id":"lst_1","bidder_id":"usr_2","amount":"10","surprise":true}`)
	check.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceBidRequiresIDs(t *testing.T) {
	h := NewBidHandler(&fakeBidService{}, testLogger())

	rec := postBid(t, h, `{"listing_id":"","bidder_id":"usr_2","amount":"10"}`)
	check.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceBidRequiresPositiveAmount(t *testing.T) {
	h := NewBidHandler(&fakeBidService{}, testLogger())

	rec := postBid(t, h, `{"listing_id":"lst_1","bidder_id":"usr_2","amount":"0"}`)
	check.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceBidMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"invalid bid", domain.ErrInvalidBid, http.StatusBadRequest},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"closed", domain.ErrListingClosed, http.StatusConflict},
		{"conflict", domain.ErrConflict, http.StatusConflict},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewBidHandler(&fakeBidService{err: tc.err}, testLogger())
			rec := postBid(t, h, `{"listing_id":"lst_1","bidder_id":"usr_2","amount":"10"}`)
			check.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestPlaceBidErrorBodyUsesMessageField(t *testing.T) {
	h := NewBidHandler(&fakeBidService{err: domain.ErrListingClosed}, testLogger())

	rec := postBid(t, h, `{"listing_id":"lst_1","bidder_id":"usr_2","amount":"10"}`)

	var body map[string]string
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	check.NotEqual(t, "", body["message"])
	_, hasErrorKey := body["error"]
	check.False(t, hasErrorKey)
}

func TestPlaceBidCarriesProxyOutbidNote(t *testing.T) {
	fake := &fakeBidService{
		res: service.BidResult{
			Listing: domain.Listing{ID: "lst_1"},
			Note:    "outbid by automatic bidding",
		},
	}
	h := NewBidHandler(fake, testLogger())

	rec := postBid(t, h, `{"listing_id":"lst_1","bidder_id":"usr_2","amount":"10"}`)

	check.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Note string `json:"note"`
	}
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	check.Equal(t, "outbid by automatic bidding", body.Note)
}
