package testutils

import (
	"net/netip"
	"sync"
)

// StubResolver maps addresses to country codes from a preset table.
type StubResolver struct {
	mu          sync.Mutex
	countries   map[netip.Addr]string
	calls       int
	errToReturn error
}

func NewStubResolver() *StubResolver {
	return &StubResolver{countries: make(map[netip.Addr]string)}
}

func (r *StubResolver) SetCountry(ip, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countries[netip.MustParseAddr(ip)] = code
}

func (r *StubResolver) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errToReturn = err
}

func (r *StubResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Country returns the preset code, or "" for unknown addresses.
func (r *StubResolver) Country(ip netip.Addr) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.errToReturn != nil {
		return "", r.errToReturn
	}
	return r.countries[ip], nil
}
