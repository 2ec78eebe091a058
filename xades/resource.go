package xades

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
)

// ResourceKind discriminates the four ways a document under signature can
// be supplied (spec.md §4.6).
type ResourceKind int

const (
	ResourceFile ResourceKind = iota
	ResourceInlineBytes
	ResourceInlineXMLTree
	ResourceURL
)

// ResourceInput is the discriminated union the orchestrator accepts for
// the document being signed. Exactly one of Path/Bytes/Tree/URL is
// meaningful, selected by Kind; use the New* constructors rather than
// building one by hand so the save-location/save-name invariant below is
// always checked.
//
// Invariant (spec.md §4.6): if Detached is false and the source is not a
// file path, both SaveLocation and SaveName must be present — an
// enveloped or enveloping signature produced from in-memory content has
// nowhere else to derive an output name from.
type ResourceInput struct {
	Kind  ResourceKind
	Path  string
	Bytes []byte
	Tree  *etree.Element
	URL   string

	// Detached signs the content without embedding it: the Reference
	// carries an explicit @URI instead of covering the host document.
	Detached bool

	SaveLocation string
	SaveName     string
}

// NewFileInput builds a ResourceInput reading from a filesystem path.
func NewFileInput(path string, detached bool) (*ResourceInput, error) {
	if path == "" {
		return nil, wrap(KindInvalidInput, "NewFileInput", fmt.Errorf("empty path"))
	}
	return &ResourceInput{Kind: ResourceFile, Path: path, Detached: detached}, nil
}

// NewInlineBytesInput builds a ResourceInput over raw XML bytes already
// in memory.
func NewInlineBytesInput(data []byte, detached bool, saveLocation, saveName string) (*ResourceInput, error) {
	ri := &ResourceInput{Kind: ResourceInlineBytes, Bytes: data, Detached: detached, SaveLocation: saveLocation, SaveName: saveName}
	if err := ri.validate(); err != nil {
		return nil, err
	}
	return ri, nil
}

// NewInlineTreeInput builds a ResourceInput over an already-parsed etree
// element, skipping a parse/reserialize round trip.
func NewInlineTreeInput(tree *etree.Element, detached bool, saveLocation, saveName string) (*ResourceInput, error) {
	if tree == nil {
		return nil, wrap(KindInvalidInput, "NewInlineTreeInput", fmt.Errorf("nil tree"))
	}
	ri := &ResourceInput{Kind: ResourceInlineXMLTree, Tree: tree, Detached: detached, SaveLocation: saveLocation, SaveName: saveName}
	if err := ri.validate(); err != nil {
		return nil, err
	}
	return ri, nil
}

// NewURLInput builds a detached ResourceInput whose Reference points at a
// URL (spec.md §4.3's "Detached mode forces an explicit @URI"). data is
// the payload's already-fetched bytes: this package never dereferences a
// URL itself (fetching is an external collaborator, spec.md §4.6), it
// only records URL as the Reference's @URI source.
func NewURLInput(rawURL string, data []byte, saveLocation, saveName string) (*ResourceInput, error) {
	if rawURL == "" {
		return nil, wrap(KindInvalidInput, "NewURLInput", fmt.Errorf("empty URL"))
	}
	ri := &ResourceInput{Kind: ResourceURL, URL: rawURL, Bytes: data, Detached: true, SaveLocation: saveLocation, SaveName: saveName}
	if err := ri.validate(); err != nil {
		return nil, err
	}
	return ri, nil
}

func (ri *ResourceInput) isFile() bool {
	return ri.Kind == ResourceFile
}

func (ri *ResourceInput) validate() error {
	if !ri.Detached && !ri.isFile() {
		if ri.SaveLocation == "" || ri.SaveName == "" {
			return wrap(KindInvalidInput, "ResourceInput", fmt.Errorf("non-detached input from a non-file source requires both SaveLocation and SaveName"))
		}
	}
	return nil
}

// resolve loads the root element of the document under signature and a
// display name to fall back on when SaveName is empty.
func (ri *ResourceInput) resolve() (root *etree.Element, defaultName string, err error) {
	switch ri.Kind {
	case ResourceFile:
		raw, rerr := os.ReadFile(ri.Path)
		if rerr != nil {
			return nil, "", fmt.Errorf("read %s: %w", ri.Path, rerr)
		}
		doc := etree.NewDocument()
		if perr := doc.ReadFromBytes(raw); perr != nil {
			return nil, "", fmt.Errorf("parse %s: %w", ri.Path, perr)
		}
		return doc.Root(), filepath.Base(ri.Path), nil
	case ResourceInlineBytes:
		doc := etree.NewDocument()
		if perr := doc.ReadFromBytes(ri.Bytes); perr != nil {
			return nil, "", fmt.Errorf("parse inline bytes: %w", perr)
		}
		return doc.Root(), "", nil
	case ResourceInlineXMLTree:
		return ri.Tree, "", nil
	case ResourceURL:
		doc := etree.NewDocument()
		if perr := doc.ReadFromBytes(ri.Bytes); perr != nil {
			return nil, "", fmt.Errorf("parse fetched URL content: %w", perr)
		}
		return doc.Root(), "", nil
	default:
		return nil, "", fmt.Errorf("unknown resource kind %d", ri.Kind)
	}
}

// detachedReferenceURI returns the Reference @URI for a detached sign
// operation (spec.md §4.3): the file's basename for file inputs, a
// percent-encoded representation of the URL for URL inputs, and the save
// name otherwise.
func (ri *ResourceInput) detachedReferenceURI(fallbackName string) string {
	switch ri.Kind {
	case ResourceURL:
		return url.QueryEscape(ri.URL)
	case ResourceFile:
		return filepath.Base(ri.Path)
	default:
		if ri.SaveName != "" {
			return ri.SaveName
		}
		return fallbackName
	}
}
