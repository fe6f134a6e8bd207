package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

// MemoryAccountRepo supports running the portal without MySQL (DB_DRIVER=memory).
// The username/email indexes are checked and written under one lock, which is
// the in-memory equivalent of the unique indexes on the accounts table.
type MemoryAccountRepo struct {
	mu       sync.RWMutex
	nextID   uint64
	byID     map[uint64]model.Account
	byName   map[string]uint64
	byEmail  map[string]uint64
	onDelete []func(id uint64)
}

func NewMemoryAccountRepo() *MemoryAccountRepo {
	return &MemoryAccountRepo{
		byID:    map[uint64]model.Account{},
		byName:  map[string]uint64{},
		byEmail: map[string]uint64{},
	}
}

// OnDelete registers a cascade hook, used by the memory event and record
// stores to drop rows that reference a deleted account.
func (r *MemoryAccountRepo) OnDelete(fn func(id uint64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDelete = append(r.onDelete, fn)
}

func (r *MemoryAccountRepo) Create(_ context.Context, a *model.Account) error {
	a.Username = NormalizeUsername(a.Username)
	a.Email = NormalizeEmail(a.Email)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[a.Username]; ok {
		return ErrDuplicateIdentity
	}
	if _, ok := r.byEmail[a.Email]; ok {
		return ErrDuplicateIdentity
	}
	r.nextID++
	a.ID = r.nextID
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	r.byID[a.ID] = cloneAccount(*a)
	r.byName[a.Username] = a.ID
	r.byEmail[a.Email] = a.ID
	return nil
}

func (r *MemoryAccountRepo) GetByID(_ context.Context, id uint64) (model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (r *MemoryAccountRepo) GetByUsername(ctx context.Context, username string) (model.Account, error) {
	r.mu.RLock()
	id, ok := r.byName[NormalizeUsername(username)]
	r.mu.RUnlock()
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryAccountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	r.mu.RLock()
	id, ok := r.byEmail[NormalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryAccountRepo) List(_ context.Context) ([]model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Account, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, cloneAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryAccountRepo) UpdateRole(_ context.Context, id uint64, role model.Role) error {
	return r.update(id, func(a *model.Account) error { a.Role = role; return nil })
}

func (r *MemoryAccountRepo) UpdateActive(_ context.Context, id uint64, active bool) error {
	return r.update(id, func(a *model.Account) error { a.IsActive = active; return nil })
}

func (r *MemoryAccountRepo) UpdateTOTP(_ context.Context, id uint64, secret string, enabled bool) error {
	return r.update(id, func(a *model.Account) error {
		a.TOTPSecret, a.TOTPEnabled = secret, enabled
		return nil
	})
}

func (r *MemoryAccountRepo) UpdateContact(_ context.Context, id uint64, email string, contact *model.ContactInfo) error {
	email = NormalizeEmail(email)
	return r.update(id, func(a *model.Account) error {
		if owner, ok := r.byEmail[email]; ok && owner != id {
			return ErrDuplicateIdentity
		}
		delete(r.byEmail, a.Email)
		r.byEmail[email] = id
		a.Email = email
		a.Contact = contact
		return nil
	})
}

func (r *MemoryAccountRepo) UpdatePassword(_ context.Context, id uint64, hash string) error {
	return r.update(id, func(a *model.Account) error { a.PasswordHash = hash; return nil })
}

func (r *MemoryAccountRepo) Delete(_ context.Context, id uint64) error {
	r.mu.Lock()
	a, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byName, a.Username)
	delete(r.byEmail, a.Email)
	hooks := append([]func(uint64){}, r.onDelete...)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

func (r *MemoryAccountRepo) update(id uint64, fn func(a *model.Account) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	r.byID[id] = a
	return nil
}

func cloneAccount(a model.Account) model.Account {
	if a.Contact != nil {
		c := *a.Contact
		a.Contact = &c
	}
	return a
}
