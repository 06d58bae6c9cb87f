package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceClient(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"O","price":"0.0021"}`))
	}))
	defer srv.Close()

	client := NewPriceClient(srv.URL, time.Second)
	ctx := context.Background()

	t.Run("Get Price", func(t *testing.T) {
		price, cached, err := client.GetPrice(ctx)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.True(t, price.Equal(decimal.RequireFromString("0.0021")))
	})

	t.Run("Falls Back To Cached Price", func(t *testing.T) {
		down.Store(true)
		defer down.Store(false)

		_, err := client.FetchQuote(ctx)
		assert.Error(t, err)

		price, cached, err := client.GetPrice(ctx)
		require.NoError(t, err)
		assert.True(t, cached)
		assert.True(t, price.Equal(decimal.RequireFromString("0.0021")))
	})

	t.Run("No Cache", func(t *testing.T) {
		down.Store(true)
		defer down.Store(false)

		_, _, err := NewPriceClient(srv.URL, 0).GetPrice(ctx)
		assert.Error(t, err)
	})
}

func TestPriceClientRejectsBadQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"O","price":"0"}`))
	}))
	defer srv.Close()

	_, err := NewPriceClient(srv.URL, time.Second).FetchQuote(context.Background())
	assert.Error(t, err)
}
