package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mstefan21/qrelay/internal/pool"
)

// File is a JSON-file account store for storeless development runs: accounts
// are loaded from a file next to the config, mutations are kept in memory and
// written back on save. Usage rows are dropped.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

type fileAccount struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	RefreshToken      string `json:"refresh_token"`
	ClientID          string `json:"client_id"`
	ClientSecret      string `json:"client_secret"`
	ProfileARN        string `json:"profile_arn,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"`
	IsActive          *bool  `json:"is_active,omitempty"`
}

func (s *File) LoadAccounts(_ context.Context) ([]*pool.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var entries []fileAccount
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}

	accounts := make([]*pool.Account, 0, len(entries))
	for i, e := range entries {
		a := &pool.Account{
			ID:                e.ID,
			Name:              e.Name,
			RefreshToken:      e.RefreshToken,
			ClientID:          e.ClientID,
			ClientSecret:      e.ClientSecret,
			ProfileARN:        e.ProfileARN,
			RequestsPerMinute: e.RequestsPerMinute,
			IsActive:          true,
			IsHealthy:         true,
		}
		if a.ID == 0 {
			a.ID = int64(i + 1)
		}
		if a.RequestsPerMinute == 0 {
			a.RequestsPerMinute = 10
		}
		if e.IsActive != nil {
			a.IsActive = *e.IsActive
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// SaveAccount is a no-op: the file is administrative input, not runtime
// state.
func (s *File) SaveAccount(_ context.Context, _ *pool.Account) error { return nil }

func (s *File) AppendUsage(_ context.Context, _ pool.UsageRecord) error { return nil }
