package gst

import (
	"sync"
	"sync/atomic"
)

// Quark is an interned string used as a cheap key.
type Quark uint32

var quarks = struct {
	sync.RWMutex
	byName map[string]Quark
	names  []string
}{byName: make(map[string]Quark), names: []string{""}}

// QuarkFromString interns s.
func QuarkFromString(s string) Quark {
	quarks.RLock()
	q, ok := quarks.byName[s]
	quarks.RUnlock()
	if ok {
		return q
	}
	quarks.Lock()
	defer quarks.Unlock()
	if q, ok := quarks.byName[s]; ok {
		return q
	}
	q = Quark(len(quarks.names))
	quarks.names = append(quarks.names, s)
	quarks.byName[s] = q
	return q
}

// QuarkTryString returns the quark for s without interning it.
func QuarkTryString(s string) (Quark, bool) {
	quarks.RLock()
	defer quarks.RUnlock()
	q, ok := quarks.byName[s]
	return q, ok
}

func (q Quark) String() string {
	quarks.RLock()
	defer quarks.RUnlock()
	if int(q) >= len(quarks.names) {
		return ""
	}
	return quarks.names[q]
}

// Type is the runtime type tag of a MiniObject or Meta API.
type Type uint32

const TypeInvalid Type = 0

type typeInfo struct {
	name string
	live atomic.Int64
}

var types = struct {
	sync.RWMutex
	infos  []*typeInfo
	byName map[string]Type
}{infos: []*typeInfo{{name: "invalid"}}, byName: make(map[string]Type)}

// RegisterType returns the Type registered under name, creating it on first use.
func RegisterType(name string) Type {
	types.Lock()
	defer types.Unlock()
	if t, ok := types.byName[name]; ok {
		return t
	}
	t := Type(len(types.infos))
	types.infos = append(types.infos, &typeInfo{name: name})
	types.byName[name] = t
	return t
}

// TypeFromName looks up a registered Type.
func TypeFromName(name string) (Type, bool) {
	types.RLock()
	defer types.RUnlock()
	t, ok := types.byName[name]
	return t, ok
}

func (t Type) info() *typeInfo {
	types.RLock()
	defer types.RUnlock()
	if int(t) >= len(types.infos) {
		return types.infos[0]
	}
	return types.infos[t]
}

// Name returns the registered name of t.
func (t Type) Name() string { return t.info().name }

func (t Type) String() string { return t.Name() }

// LiveObjects returns how many MiniObjects of type t are currently alive.
func (t Type) LiveObjects() int64 { return t.info().live.Load() }

var (
	TypeBuffer     = RegisterType("GstBuffer")
	TypeBufferList = RegisterType("GstBufferList")
	TypeMemory     = RegisterType("GstMemory")
	TypeCaps       = RegisterType("GstCaps")
	TypeSample     = RegisterType("GstSample")
	TypeEvent      = RegisterType("GstEvent")
	TypeQuery      = RegisterType("GstQuery")
	TypeMessage    = RegisterType("GstMessage")
	TypeContext    = RegisterType("GstContext")
	TypeTagList    = RegisterType("GstTagList")
	TypeToc        = RegisterType("GstToc")
	TypePromise    = RegisterType("GstPromise")
)
