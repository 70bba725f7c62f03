//go:build cgo

package keystore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/miekg/pkcs11"
)

// sessionPool pools PKCS#11 sessions for one (module, slot) pair.
type sessionPool struct {
	mu        sync.Mutex
	ctx       *pkcs11.Ctx
	module    string
	slotID    uint
	pin       string
	available []pkcs11.SessionHandle
	inUse     map[pkcs11.SessionHandle]bool
	loginDone bool
	closed    bool
}

var (
	pools   = make(map[string]*sessionPool)
	poolsMu sync.Mutex
)

func poolKey(modulePath string, slotID uint) string {
	return fmt.Sprintf("%s:%d", modulePath, slotID)
}

// getSessionPool returns the pool for (modulePath, slotID), loading and
// initializing the module on first use.
func getSessionPool(modulePath string, slotID uint, pin string) (*sessionPool, error) {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	key := poolKey(modulePath, slotID)
	if pool, ok := pools[key]; ok {
		pool.mu.Lock()
		closed := pool.closed
		pool.mu.Unlock()
		if !closed {
			return pool, nil
		}
		delete(pools, key)
	}

	ctx, err := loadModule(modulePath)
	if err != nil {
		return nil, err
	}

	pool := &sessionPool{
		ctx:    ctx,
		module: modulePath,
		slotID: slotID,
		pin:    pin,
		inUse:  make(map[pkcs11.SessionHandle]bool),
	}
	pools[key] = pool
	return pool, nil
}

// loadModule loads a PKCS#11 module, tolerating an already initialized one.
func loadModule(modulePath string) (*pkcs11.Ctx, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", modulePath)
	}
	if err := ctx.Initialize(); err != nil {
		var p11err pkcs11.Error
		if !errors.As(err, &p11err) || p11err != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			ctx.Destroy()
			return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
		}
	}
	return ctx, nil
}

// acquire reserves a session. The returned release function must be called
// when done.
func (p *sessionPool) acquire() (pkcs11.SessionHandle, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil, fmt.Errorf("session pool is closed")
	}

	var session pkcs11.SessionHandle
	if n := len(p.available); n > 0 {
		session = p.available[n-1]
		p.available = p.available[:n-1]
	} else {
		var err error
		session, err = p.ctx.OpenSession(p.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to open session: %w", err)
		}

		// Login is per token, not per session.
		if p.pin != "" && !p.loginDone {
			if err := p.ctx.Login(session, pkcs11.CKU_USER, p.pin); err != nil {
				var p11err pkcs11.Error
				if !errors.As(err, &p11err) || p11err != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
					_ = p.ctx.CloseSession(session)
					return 0, nil, fmt.Errorf("failed to login: %w", err)
				}
			}
			p.loginDone = true
		}
	}

	p.inUse[session] = true

	release := func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		delete(p.inUse, session)
		if p.closed {
			_ = p.ctx.CloseSession(session)
			return
		}
		p.available = append(p.available, session)
	}
	return session, release, nil
}

// close shuts the pool down and removes it from the pool table.
func (p *sessionPool) close() error {
	err := p.shutdown()

	poolsMu.Lock()
	if key := poolKey(p.module, p.slotID); pools[key] == p {
		delete(pools, key)
	}
	poolsMu.Unlock()

	return err
}

// shutdown logs out, closes every session and finalizes the module.
func (p *sessionPool) shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var result *multierror.Error

	if p.loginDone {
		var session pkcs11.SessionHandle
		found := false
		if len(p.available) > 0 {
			session, found = p.available[0], true
		} else {
			for s := range p.inUse {
				session, found = s, true
				break
			}
		}
		if found {
			if err := p.ctx.Logout(session); err != nil {
				var p11err pkcs11.Error
				if !errors.As(err, &p11err) || p11err != pkcs11.CKR_USER_NOT_LOGGED_IN {
					result = multierror.Append(result, fmt.Errorf("logout: %w", err))
				}
			}
		}
	}

	for _, session := range p.available {
		if err := p.ctx.CloseSession(session); err != nil {
			result = multierror.Append(result, fmt.Errorf("close session: %w", err))
		}
	}
	for session := range p.inUse {
		if err := p.ctx.CloseSession(session); err != nil {
			result = multierror.Append(result, fmt.Errorf("close in-use session: %w", err))
		}
	}

	if err := p.ctx.Finalize(); err != nil {
		var p11err pkcs11.Error
		if !errors.As(err, &p11err) || p11err != pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED {
			result = multierror.Append(result, fmt.Errorf("finalize: %w", err))
		}
	}
	p.ctx.Destroy()

	return result.ErrorOrNil()
}

// CloseAllPools closes every PKCS#11 session pool. Call it at program exit.
func CloseAllPools() error {
	poolsMu.Lock()
	all := make([]*sessionPool, 0, len(pools))
	for _, pool := range pools {
		all = append(all, pool)
	}
	poolsMu.Unlock()

	var result *multierror.Error
	for _, pool := range all {
		if err := pool.close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
