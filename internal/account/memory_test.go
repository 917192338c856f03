package account

import (
	"context"
	"sort"
	"sync"

	"skin-accounts/internal/provider"
)

// memoryStore mirrors the repository contract, including the unique index
// on enabled (account_type, uuid).
type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Account
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[int64]Account)}
}

func (m *memoryStore) conflicts(account Account) bool {
	if !account.Enabled {
		return false
	}
	for id, row := range m.rows {
		if id != account.ID && row.Enabled && row.AccountType == account.AccountType && row.UUID == account.UUID {
			return true
		}
	}
	return false
}

func (m *memoryStore) Insert(ctx context.Context, account Account) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.ID = 0
	if m.conflicts(account) {
		return 0, ErrDuplicate
	}
	m.nextID++
	account.ID = m.nextID
	m.rows[account.ID] = account
	return account.ID, nil
}

func (m *memoryStore) FindEnabledByProfile(ctx context.Context, accountType provider.AccountType, uuid string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Enabled && row.AccountType == accountType && row.UUID == uuid {
			return row, nil
		}
	}
	return Account{}, ErrNotFound
}

func (m *memoryStore) FindByLogin(ctx context.Context, accountType provider.AccountType, uuid, login string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []Account
	for _, row := range m.rows {
		if row.AccountType == accountType && row.UUID == uuid && (row.Email == login || row.Username == login) {
			matches = append(matches, row)
		}
	}
	if len(matches) == 0 {
		return Account{}, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Enabled != matches[j].Enabled {
			return matches[i].Enabled
		}
		return matches[i].ID > matches[j].ID
	})
	return matches[0], nil
}

func (m *memoryStore) FindByID(ctx context.Context, id int64, uuid, login string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.UUID != uuid || (row.Email != login && row.Username != login) {
		return Account{}, ErrNotFound
	}
	return row, nil
}

func (m *memoryStore) Update(ctx context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[account.ID]
	if !ok {
		return ErrNotFound
	}
	if m.conflicts(account) {
		return ErrDuplicate
	}
	account.UUID = existing.UUID
	account.AccountType = existing.AccountType
	m.rows[account.ID] = account
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memoryStore) get(id int64) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	return row, ok
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
