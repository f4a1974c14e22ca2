package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/senderauth/internal/domainauth/model"
)

type accountDomain struct {
	account string
	domain  string
}

// MemoryRepository is a process-local store for development and tests. It
// honours the same uniqueness and version rules as the durable stores.
type MemoryRepository struct {
	mu       sync.RWMutex
	rows     map[uuid.UUID]*model.DomainAuth
	byDomain map[accountDomain]uuid.UUID
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:     make(map[uuid.UUID]*model.DomainAuth),
		byDomain: make(map[accountDomain]uuid.UUID),
	}
}

func (r *MemoryRepository) Create(_ context.Context, d *model.DomainAuth) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := accountDomain{d.AccountID, d.Domain}
	if _, ok := r.byDomain[key]; ok {
		return ErrDuplicate
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Version = 1

	r.rows[d.ID] = d.Clone()
	r.byDomain[key] = d.ID
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, accountID string, id uuid.UUID) (*model.DomainAuth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.rows[id]
	if !ok || d.AccountID != accountID {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (r *MemoryRepository) GetByDomain(_ context.Context, accountID, domain string) (*model.DomainAuth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byDomain[accountDomain{accountID, domain}]
	if !ok {
		return nil, ErrNotFound
	}
	return r.rows[id].Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, accountID string) ([]*model.DomainAuth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.DomainAuth
	for _, d := range r.rows {
		if d.AccountID == accountID {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Domain < out[j].Domain
	})
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, d *model.DomainAuth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[d.ID]
	if !ok || cur.AccountID != d.AccountID {
		return ErrNotFound
	}
	if cur.Version != d.Version {
		return ErrVersionConflict
	}
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	next := d.Clone()
	next.CreatedAt = cur.CreatedAt
	next.Domain = cur.Domain
	r.rows[d.ID] = next
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, accountID string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[id]
	if !ok || cur.AccountID != accountID {
		return ErrNotFound
	}
	delete(r.rows, id)
	delete(r.byDomain, accountDomain{cur.AccountID, cur.Domain})
	return nil
}
