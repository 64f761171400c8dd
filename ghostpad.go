package gst

import "fmt"

// ProxyPad forwards everything it receives to its partner pad.
type ProxyPad struct {
	Pad
	partner *ProxyPad
}

// Internal returns the pad data is forwarded to.
func (p *ProxyPad) Internal() *ProxyPad { return p.partner }

func (p *ProxyPad) installProxyFunctions() {
	p.SetChainFunction(func(_ *Pad, _ *Element, buf *Buffer) FlowReturn {
		return p.partner.Push(buf)
	})
	p.SetChainListFunction(func(_ *Pad, _ *Element, list *BufferList) FlowReturn {
		return p.partner.PushList(list)
	})
	p.SetEventFunction(func(_ *Pad, _ *Element, ev *Event) bool {
		return p.partner.PushEvent(ev)
	})
	p.SetQueryFunction(func(_ *Pad, _ *Element, q *QueryMut) bool {
		return p.partner.PeerQuery(q)
	})
	p.SetGetRangeFunction(func(_ *Pad, _ *Element, offset uint64, length uint) (*Buffer, FlowReturn) {
		return p.partner.PullRange(offset, length)
	})
	p.SetIterateInternalLinksFunction(func(*Pad, *Element) []*Pad {
		return []*Pad{&p.partner.Pad}
	})
}

// GhostPad exposes a pad of a bin's child on the bin itself. Data crosses the
// bin boundary through an internal proxy pad of the opposite direction linked
// to the target.
type GhostPad struct {
	ProxyPad
	internal ProxyPad
}

// NewGhostPadNoTarget returns a ghost pad of direction dir without a target.
func NewGhostPadNoTarget(name string, dir PadDirection) *GhostPad {
	return newGhostPad(name, dir, nil)
}

// NewGhostPadNoTargetFromTemplate is NewGhostPadNoTarget taking the direction
// from tmpl.
func NewGhostPadNoTargetFromTemplate(name string, tmpl *PadTemplate) *GhostPad {
	return newGhostPad(name, tmpl.Direction(), tmpl)
}

// NewGhostPad returns a ghost pad with the direction of target, targeting it.
func NewGhostPad(name string, target *Pad) (*GhostPad, error) {
	g := newGhostPad(name, target.Direction(), nil)
	if err := g.SetTarget(target); err != nil {
		return nil, err
	}
	return g, nil
}

// NewGhostPadFromTemplate is NewGhostPad using tmpl for the ghost pad.
func NewGhostPadFromTemplate(name string, target *Pad, tmpl *PadTemplate) (*GhostPad, error) {
	if tmpl.Direction() != target.Direction() {
		return nil, fmt.Errorf("gst: template %s has direction %s, target %s", tmpl.NameTemplate(), tmpl.Direction(), target.Direction())
	}
	g := newGhostPad(name, tmpl.Direction(), tmpl)
	if err := g.SetTarget(target); err != nil {
		return nil, err
	}
	return g, nil
}

func newGhostPad(name string, dir PadDirection, tmpl *PadTemplate) *GhostPad {
	if name == "" && tmpl != nil && tmpl.Presence() == PadAlways {
		name = tmpl.NameTemplate()
	}
	g := &GhostPad{}
	g.initPad(g, name, dir, tmpl)
	g.internal.initPad(&g.internal, "", dir.Opposite(), nil)
	g.partner = &g.internal
	g.internal.partner = &g.ProxyPad
	g.installProxyFunctions()
	g.internal.installProxyFunctions()
	_ = g.internal.SetParent(g)

	g.SetActivateModeFunction(func(_ *Pad, _ *Element, mode PadMode, active bool) error {
		return g.internal.ActivateMode(mode, active)
	})
	return g
}

// AsGhostPad returns the ghost pad behind p.
func AsGhostPad(p *Pad) (*GhostPad, bool) {
	g, ok := p.Self().(*GhostPad)
	return g, ok
}

// InternalPad returns the proxy pad linked to the target.
func (g *GhostPad) InternalPad() *Pad { return &g.internal.Pad }

// Target returns the pad g forwards to, or nil.
func (g *GhostPad) Target() *Pad { return g.internal.Peer() }

// SetTarget retargets g. A nil target only unlinks the current one. The new
// target must have the direction of g and be unlinked.
func (g *GhostPad) SetTarget(target *Pad) error {
	if target != nil && target.Direction() != g.Direction() {
		return fmt.Errorf("gst: ghost pad %s has direction %s, target %s", g.Name(), g.Direction(), target.Direction())
	}
	internal := &g.internal.Pad
	if old := internal.Peer(); old != nil {
		var err error
		if internal.IsSrc() {
			err = internal.Unlink(old)
		} else {
			err = old.Unlink(internal)
		}
		if err != nil {
			return err
		}
		catPads.Debug(g, "removed target %s", old)
	}
	if target == nil {
		return nil
	}
	var err error
	if internal.IsSrc() {
		err = internal.LinkFull(target, PadLinkCheckNothing)
	} else {
		err = target.LinkFull(internal, PadLinkCheckNothing)
	}
	if err != nil {
		return fmt.Errorf("gst: ghost pad %s: link target %s: %w", g.Name(), target, err)
	}
	if g.IsActive() && !internal.IsActive() {
		if err := internal.ActivateMode(g.Mode(), true); err != nil {
			return err
		}
	}
	catPads.Debug(g, "target set to %s", target)
	return nil
}
