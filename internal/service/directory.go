package service

import (
	"context"
	"time"

	"botchat/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Directory resolves user profiles for display names and kind checks.
// Lookups go through an expiring LRU; concurrent misses for the same id
// share one repository call.
type Directory struct {
	repo    domain.UserRepository
	cache   *expirable.LRU[string, domain.User]
	sfGroup singleflight.Group
}

// NewDirectory creates a directory holding at most size profiles for ttl
func NewDirectory(repo domain.UserRepository, size int, ttl time.Duration) *Directory {
	if size <= 0 {
		size = 1024
	}
	return &Directory{
		repo:  repo,
		cache: expirable.NewLRU[string, domain.User](size, nil, ttl),
	}
}

// Lookup returns a copy of the user's profile
func (d *Directory) Lookup(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := d.cache.Get(id); ok {
		return &u, nil
	}

	v, err, _ := d.sfGroup.Do(id, func() (any, error) {
		u, err := d.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		d.cache.Add(id, *u)
		return *u, nil
	})
	if err != nil {
		return nil, err
	}

	u := v.(domain.User)
	return &u, nil
}

// Invalidate drops a cached profile after it changed
func (d *Directory) Invalidate(id string) {
	d.cache.Remove(id)
}

// Len returns the number of cached profiles
func (d *Directory) Len() int {
	return d.cache.Len()
}
