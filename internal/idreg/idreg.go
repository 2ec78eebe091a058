// Package idreg implements the per-document @Id registry spec.md §5 and
// §9 require: scoped to one verification context, not process-wide, and
// explicitly reset before each verify.
package idreg

import (
	"fmt"
	"sync"

	"github.com/beevik/etree"
)

// Registry maps @Id attribute values to the element that declares them,
// for one document under verification.
type Registry struct {
	mu    sync.Mutex
	attr  string
	nodes map[string]*etree.Element
}

// New creates an empty registry keyed on the given id attribute name
// (normally "Id").
func New(idAttr string) *Registry {
	return &Registry{attr: idAttr, nodes: map[string]*etree.Element{}}
}

// Reset clears every entry. The orchestrator calls this before each
// verify operation, per spec.md §5 ("reset before each verify to avoid
// cross-document collisions").
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = map[string]*etree.Element{}
}

// Index walks root and its descendants, registering every element that
// carries the registry's id attribute. Returns an error if two distinct
// elements declare the same id.
func (r *Registry) Index(root *etree.Element) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexLocked(root)
}

func (r *Registry) indexLocked(el *etree.Element) error {
	if id := el.SelectAttrValue(r.attr, ""); id != "" {
		if existing, ok := r.nodes[id]; ok && existing != el {
			return fmt.Errorf("idreg: duplicate id %q", id)
		}
		r.nodes[id] = el
	}
	for _, c := range el.ChildElements() {
		if err := r.indexLocked(c); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the element registered under id, if any.
func (r *Registry) Lookup(id string) (*etree.Element, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.nodes[id]
	return el, ok
}
