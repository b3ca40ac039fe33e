package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAccountsFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestFile_LoadAccounts(t *testing.T) {
	path := writeAccountsFile(t, `[
		{"id": 7, "name": "alpha", "refresh_token": "rt1", "client_id": "c1", "client_secret": "s1", "requests_per_minute": 20},
		{"name": "beta", "refresh_token": "rt2", "client_id": "c2", "client_secret": "s2", "is_active": false}
	]`)

	accounts, err := NewFile(path).LoadAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, int64(7), accounts[0].ID)
	assert.Equal(t, "alpha", accounts[0].Name)
	assert.Equal(t, 20, accounts[0].RequestsPerMinute)
	assert.True(t, accounts[0].IsActive)
	assert.True(t, accounts[0].IsHealthy)

	// Defaults: positional id, 10 rpm.
	assert.Equal(t, int64(2), accounts[1].ID)
	assert.Equal(t, 10, accounts[1].RequestsPerMinute)
	assert.False(t, accounts[1].IsActive)
}

func TestFile_LoadAccountsErrors(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "missing.json")).LoadAccounts(context.Background())
	assert.Error(t, err)

	path := writeAccountsFile(t, "not json")
	_, err = NewFile(path).LoadAccounts(context.Background())
	assert.Error(t, err)
}
