package storage

import (
	"context"
	"testing"

	"colonyledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	repo, err := Open(" sqlite://file::memory: ")
	require.NoError(t, err)
	defer repo.Close()

	assert.Equal(t, "sqlite", repo.Kind())
	require.NoError(t, repo.SaveGasPrices(context.Background(), domain.GasPrices{"network": "1"}))
	prices, err := repo.LoadGasPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.GasPrices{"network": "1"}, prices)
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
