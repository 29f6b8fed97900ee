package render

import "sync"

// Platform is the process-wide window-system connection backend contexts are
// created against. It is initialized once; later contexts share it.
type Platform struct {
	mu          sync.Mutex
	initialized bool
	users       int
}

var defaultPlatform Platform

// DefaultPlatform returns the process-wide platform.
func DefaultPlatform() *Platform {
	return &defaultPlatform
}

// Init initializes the platform. A second Init without Shutdown fails.
func (p *Platform) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return ErrPlatformInitialized
	}
	p.initialized = true
	return nil
}

// IsInitialized reports whether Init has run.
func (p *Platform) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.initialized
}

// Acquire registers a context user, initializing the platform on first use.
func (p *Platform) Acquire() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.initialized = true
	p.users++
}

// Release drops a context user. The platform shuts down with its last user.
func (p *Platform) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.users > 0 {
		p.users--
	}
	if p.users == 0 {
		p.initialized = false
	}
}

// Shutdown tears the platform down regardless of users.
func (p *Platform) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.initialized = false
	p.users = 0
}
