package gst

import (
	"fmt"
	"strings"
)

// ChildProxy is implemented by objects that expose named children, such as bins.
type ChildProxy interface {
	ChildByName(name string) ObjectHandle
	ChildByIndex(i int) ObjectHandle
	ChildrenCount() int
}

var _ ChildProxy = (*Bin)(nil)

// ChildProxyLookup resolves a "child::grandchild::property" path below root and
// returns the object holding the property and the property name.
func ChildProxyLookup(root ObjectHandle, path string) (*Object, string, error) {
	parts := strings.Split(path, "::")
	cur := root
	for _, name := range parts[:len(parts)-1] {
		proxy, ok := cur.AsObject().Self().(ChildProxy)
		if !ok {
			return nil, "", fmt.Errorf("gst: %s has no children", cur.AsObject().Name())
		}
		child := proxy.ChildByName(name)
		if child == nil {
			return nil, "", fmt.Errorf("gst: %s has no child %q", cur.AsObject().Name(), name)
		}
		cur = child
	}
	prop := parts[len(parts)-1]
	obj := cur.AsObject()
	if _, ok := obj.FindProperty(prop); !ok {
		return nil, "", fmt.Errorf("gst: %s has no property %q", obj.Name(), prop)
	}
	return obj, prop, nil
}

// ChildProxySetProperty sets the property addressed by path, e.g.
// "src::num-buffers".
func ChildProxySetProperty(root ObjectHandle, path string, value any) error {
	obj, prop, err := ChildProxyLookup(root, path)
	if err != nil {
		return err
	}
	return obj.SetProperty(prop, value)
}

// ChildProxyProperty returns the property addressed by path.
func ChildProxyProperty(root ObjectHandle, path string) (any, error) {
	obj, prop, err := ChildProxyLookup(root, path)
	if err != nil {
		return nil, err
	}
	return obj.Property(prop)
}
