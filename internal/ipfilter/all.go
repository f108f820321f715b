package ipfilter

import "net/netip"

// Group allows an address only if every member allows it.
type Group struct {
	members []Filter
}

func All(members ...Filter) *Group {
	g := &Group{}
	for _, m := range members {
		if m != nil {
			g.members = append(g.members, m)
		}
	}
	return g
}

func (g *Group) AllowIP(ip netip.Addr) bool {
	for _, m := range g.members {
		if !m.AllowIP(ip) {
			return false
		}
	}
	return true
}

func (g *Group) Refresh() { g.RefreshWithCallback(nil) }

// RefreshWithCallback refreshes every member; onDone runs after the last one finishes.
func (g *Group) RefreshWithCallback(onDone func()) {
	if len(g.members) == 0 {
		if onDone != nil {
			onDone()
		}
		return
	}
	done := afterAll(int32(len(g.members)), onDone)
	for _, m := range g.members {
		m.RefreshWithCallback(done)
	}
}

func (g *Group) HasBlockedEntries() bool {
	for _, m := range g.members {
		if m.HasBlockedEntries() {
			return true
		}
	}
	return false
}

// RefreshAndWait refreshes f and blocks until the rebuild has finished.
func RefreshAndWait(f Refresher) {
	done := make(chan struct{})
	f.RefreshWithCallback(func() { close(done) })
	<-done
}
