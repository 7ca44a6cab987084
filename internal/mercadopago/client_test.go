package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPreapprovalsWalksAllPages(t *testing.T) {
	const total = preapprovalSearchPageSize + 3

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		require.Equal(t, "/preapproval/search", r.URL.Path)
		require.Equal(t, "authorized", r.URL.Query().Get("status"))
		require.Equal(t, strconv.Itoa(preapprovalSearchPageSize), r.URL.Query().Get("limit"))

		offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
		require.NoError(t, err)

		var results []preapprovalResponse
		for i := offset; i < total && len(results) < preapprovalSearchPageSize; i++ {
			results = append(results, preapprovalResponse{ID: fmt.Sprintf("mp-sub-%d", i), Status: "authorized"})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(preapprovalSearchResponse{
			Results: results,
			Paging:  searchPaging{Total: total, Limit: preapprovalSearchPageSize, Offset: offset},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{AccessToken: "platform-token", BaseURL: srv.URL}, zerolog.Nop())

	results, err := c.SearchPreapprovals(context.Background(), "authorized")
	require.NoError(t, err)
	assert.Len(t, results, total)
	assert.Equal(t, 2, requests)
	assert.Equal(t, "mp-sub-0", results[0].ID)
	assert.Equal(t, fmt.Sprintf("mp-sub-%d", total-1), results[total-1].ID)
}

func TestOAuthOperationsRequireCredentials(t *testing.T) {
	c := NewClient(Config{}, zerolog.Nop())

	_, err := c.AuthorizeURL("state")
	assert.ErrorIs(t, err, domain.ErrMissingProviderCredentials)

	_, err = c.ExchangeCode(context.Background(), "code")
	assert.ErrorIs(t, err, domain.ErrMissingProviderCredentials)

	_, err = c.RefreshTokens(context.Background(), "refresh")
	assert.ErrorIs(t, err, domain.ErrMissingProviderCredentials)
}
