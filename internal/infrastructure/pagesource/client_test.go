package pagesource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shelfsignal/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPage_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		assert.Equal(t, "mercadolivre", r.URL.Query().Get("platform"))
		assert.Equal(t, "fone bluetooth", r.URL.Query().Get("term"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		json.NewEncoder(w).Encode(map[string]any{
			"listings": []domain.Listing{
				{ProductID: "MLB1234567", Title: "Fone", SalesText: "+500 vendidos"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, RequestsPerSecond: 100})
	listings, err := client.FetchPage(context.Background(), domain.PlatformMercadoLivre, "fone bluetooth", 2)

	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "+500 vendidos", listings[0].SalesText)
}

func TestFetchPage_EmptyAndMissingPages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "empty listings", status: http.StatusOK, body: `{"listings":[]}`},
		{name: "null listings", status: http.StatusOK, body: `{}`},
		{name: "not found", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(ClientConfig{BaseURL: server.URL, RequestsPerSecond: 100})
			listings, err := client.FetchPage(context.Background(), domain.PlatformAmazon, "x", 9)

			require.NoError(t, err)
			assert.NotNil(t, listings)
			assert.Empty(t, listings)
		})
	}
}

func TestFetchPage_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, RequestsPerSecond: 100})

	_, err := client.FetchPage(context.Background(), domain.PlatformAmazon, "x", 1)
	assert.Error(t, err)

	_, err = client.FetchPage(context.Background(), domain.PlatformAmazon, "x", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
