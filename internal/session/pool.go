package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var (
	log           = logger.Get("Sessions")
	ErrPoolClosed = errors.New("session pool is closed")
)

type (
	// Factory opens a new authenticated session for the account provided.
	Factory[S io.Closer] func(ctx context.Context, account string) (S, error)

	// Pool hands out sessions per account such that a session is only ever
	// held by one lease at a time. Healthy sessions are retained on release
	// and reused by the next job for the same account.
	Pool[S io.Closer] struct {
		mutex         sync.Mutex
		factory       Factory[S]
		maxPerAccount int
		slots         map[string]*accountSlot[S]
		closed        bool
	}

	accountSlot[S io.Closer] struct {
		permits chan struct{}
		idle    []S
	}

	Lease[S io.Closer] struct {
		pool     *Pool[S]
		account  string
		session  S
		released sync.Once
	}
)

// NewPool constructs a pool which will hold at most maxPerAccount
// sessions for any one account. Values below one are treated as one.
func NewPool[S io.Closer](factory Factory[S], maxPerAccount int) *Pool[S] {
	if maxPerAccount < 1 {
		maxPerAccount = 1
	}

	return &Pool[S]{
		factory:       factory,
		maxPerAccount: maxPerAccount,
		slots:         make(map[string]*accountSlot[S]),
	}
}

// Acquire checks out a session for the account, blocking while every
// permitted session for that account is leased. An idle session is reused
// where available, otherwise the pools factory is used to open a new one.
func (pool *Pool[S]) Acquire(ctx context.Context, account string) (*Lease[S], error) {
	slot, err := pool.slot(account)
	if err != nil {
		return nil, err
	}

	select {
	case slot.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	pool.mutex.Lock()
	if pool.closed {
		pool.mutex.Unlock()
		<-slot.permits
		return nil, ErrPoolClosed
	}
	if n := len(slot.idle); n > 0 {
		session := slot.idle[n-1]
		slot.idle = slot.idle[:n-1]
		pool.mutex.Unlock()

		log.Emit(logger.DEBUG, "Reusing idle session for account '%s'\n", account)
		return &Lease[S]{pool: pool, account: account, session: session}, nil
	}
	pool.mutex.Unlock()

	session, err := pool.factory(ctx, account)
	if err != nil {
		<-slot.permits
		return nil, err
	}

	log.Emit(logger.NEW, "Opened new session for account '%s'\n", account)
	return &Lease[S]{pool: pool, account: account, session: session}, nil
}

// Close tears down every idle session. Sessions currently leased are
// closed when their lease is released.
func (pool *Pool[S]) Close() error {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	pool.closed = true
	var errs []error
	for account, slot := range pool.slots {
		for _, session := range slot.idle {
			if err := session.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		slot.idle = nil
		log.Emit(logger.REMOVE, "Closed idle sessions for account '%s'\n", account)
	}

	return errors.Join(errs...)
}

// Idle returns the number of idle sessions retained for the account.
func (pool *Pool[S]) Idle(account string) int {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	if slot, ok := pool.slots[account]; ok {
		return len(slot.idle)
	}

	return 0
}

func (pool *Pool[S]) slot(account string) (*accountSlot[S], error) {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()
	if pool.closed {
		return nil, ErrPoolClosed
	}

	slot, ok := pool.slots[account]
	if !ok {
		slot = &accountSlot[S]{permits: make(chan struct{}, pool.maxPerAccount)}
		pool.slots[account] = slot
	}

	return slot, nil
}

// Session returns the leased session.
func (lease *Lease[S]) Session() S { return lease.session }

// Release returns the session to the pool. An unhealthy session (one
// that observed a fatal error) is closed instead of being retained.
// Release is idempotent.
func (lease *Lease[S]) Release(healthy bool) error {
	var err error
	lease.released.Do(func() {
		pool := lease.pool
		pool.mutex.Lock()
		slot := pool.slots[lease.account]
		keep := healthy && !pool.closed
		if keep {
			slot.idle = append(slot.idle, lease.session)
		}
		pool.mutex.Unlock()

		if !keep {
			log.Emit(logger.REMOVE, "Tearing down session for account '%s'\n", lease.account)
			err = lease.session.Close()
		}

		<-slot.permits
	})

	return err
}
