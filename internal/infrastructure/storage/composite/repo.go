package composite

import (
	"context"
	"errors"

	"xstream/internal/application/port"
	"xstream/internal/domain"
)

// Repo fans every write out to all backends. Each backend is attempted; the
// first error is returned.
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) each(fn func(port.Repository) error) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := fn(repo); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) UpsertTicker(ctx context.Context, t domain.Ticker) error {
	return r.each(func(repo port.Repository) error { return repo.UpsertTicker(ctx, t) })
}

func (r *Repo) InsertTrade(ctx context.Context, t domain.Trade) error {
	return r.each(func(repo port.Repository) error { return repo.InsertTrade(ctx, t) })
}

func (r *Repo) SaveAccount(ctx context.Context, a domain.Account) error {
	return r.each(func(repo port.Repository) error { return repo.SaveAccount(ctx, a) })
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	return r.each(func(repo port.Repository) error { return repo.InsertSnapshot(ctx, ts, payload) })
}

// Close closes every backend and joins their errors.
func (r *Repo) Close() error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ port.Repository = (*Repo)(nil)
