package services

import (
	"context"
	"sync"

	"nutriwise/cmd/chat/store"
	"nutriwise/cmd/internal/logger"
	"nutriwise/models"
)

// FetchPageFunc loads one page of the session list. Pages are 1-based; an
// empty result means the list is exhausted.
type FetchPageFunc func(ctx context.Context, pageNumber int) ([]models.Session, error)

// Pager drives load-more-on-scroll over the session list with
// at-most-one-in-flight semantics. A second trigger while a fetch is
// pending is dropped, not queued, so rapid scroll events cannot stack
// duplicate requests.
type Pager struct {
	mu       sync.Mutex
	loading  bool
	hasMore  bool
	page     int
	fetch    FetchPageFunc
	sessions *store.SessionStore
}

func NewPager(sessions *store.SessionStore, fetch FetchPageFunc) *Pager {
	return &Pager{
		hasMore:  true,
		page:     1,
		fetch:    fetch,
		sessions: sessions,
	}
}

// RequestNextPage fetches the next page and appends it to the session
// store. No-op while a fetch is in flight or after the list is exhausted.
// A fetch error leaves the cursor untouched, so the next trigger retries
// the same page.
func (p *Pager) RequestNextPage(ctx context.Context) error {
	p.mu.Lock()
	if p.loading || !p.hasMore {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	page := p.page
	p.mu.Unlock()

	batch, err := p.fetch(ctx, page)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false

	if err != nil {
		logger.ErrorWithFields("failed to load sessions page", logger.Fields{
			"page":  page,
			"error": err.Error(),
		})
		return err
	}

	if len(batch) == 0 {
		p.hasMore = false
		return nil
	}

	p.sessions.Append(batch)
	p.page++
	return nil
}

// Refresh refetches page one and swaps it into the store, restarting the
// cursor from the top. The current list and cursor stay untouched until
// the fetch succeeded, so a failed refresh loses nothing. No-op while a
// fetch is in flight. Session create/delete deliberately leave the
// cursor alone; only an explicit refresh restarts it.
func (p *Pager) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	p.mu.Unlock()

	batch, err := p.fetch(ctx, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false

	if err != nil {
		logger.ErrorWithFields("failed to refresh session list", logger.Fields{
			"error": err.Error(),
		})
		return err
	}

	p.sessions.ReplaceAll(batch)
	if len(batch) == 0 {
		p.hasMore = false
		p.page = 1
	} else {
		p.hasMore = true
		p.page = 2
	}
	return nil
}

// HasMore reports whether another page may exist. Once false it stays
// false; only a successful Refresh starts a fresh pass over the list.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

func (p *Pager) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

func (p *Pager) PageNumber() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}
