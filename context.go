package gst

import "fmt"

// Context carries shared state, such as a display handle, that elements exchange
// through context queries and need-context messages.
type Context struct {
	MiniObject

	contextType string
	persistent  bool
	structure   *Structure
}

// ContextMut is a proven-writable view on a Context.
type ContextMut struct {
	*Context
}

// NewContext creates a context of contextType. Persistent contexts survive an
// element going back to NULL.
func NewContext(contextType string, persistent bool) *ContextMut {
	c := &Context{contextType: contextType, persistent: persistent}
	c.init(TypeContext, 0, nil, c.freeContext)
	c.structure = NewStructure("context")
	c.structure.setParent(&c.MiniObject)
	return &ContextMut{c}
}

func (c *Context) freeContext() {
	c.structure.parent = nil
	c.structure.release()
}

// Ref takes another reference.
func (c *Context) Ref() *Context { c.ref(); return c }

// Copy returns an independent copy.
func (c *Context) Copy() *ContextMut {
	n := NewContext(c.contextType, c.persistent)
	n.structure.parent = nil
	n.structure = c.structure.Copy()
	n.structure.setParent(&n.MiniObject)
	return n
}

// GetMut returns a mutable view if c is writable.
func (c *Context) GetMut() (*ContextMut, bool) {
	if !c.IsWritable() {
		return nil, false
	}
	return &ContextMut{c}, true
}

// MakeWritable consumes the handle and returns a writable context, copying when shared.
func (c *Context) MakeWritable() *ContextMut {
	if m, ok := c.GetMut(); ok {
		return m
	}
	n := c.Copy()
	c.Unref()
	return n
}

func (c *Context) ContextType() string              { return c.contextType }
func (c *Context) HasContextType(t string) bool     { return c.contextType == t }
func (c *Context) IsPersistent() bool               { return c.persistent }
func (c *Context) Structure() *Structure            { return c.structure }
func (c *ContextMut) WritableStructure() *Structure { c.mustBeWritable(); return c.structure }

func (c *Context) String() string {
	return fmt.Sprintf("context %s (persistent %t), %s", c.contextType, c.persistent, c.structure)
}
