package idreg_test

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lou-perret/xml-signer/internal/idreg"
)

func buildTree() *etree.Element {
	root := &etree.Element{Tag: "Root"}
	root.CreateAttr("Id", "root-id")
	child := root.CreateElement("Child")
	child.CreateAttr("Id", "child-id")
	root.CreateElement("NoId")
	return root
}

func TestIndexAndLookup(t *testing.T) {
	reg := idreg.New("Id")
	root := buildTree()
	require.NoError(t, reg.Index(root))

	el, ok := reg.Lookup("root-id")
	require.True(t, ok)
	assert.Equal(t, "Root", el.Tag)

	el, ok = reg.Lookup("child-id")
	require.True(t, ok)
	assert.Equal(t, "Child", el.Tag)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestIndexDuplicateID(t *testing.T) {
	reg := idreg.New("Id")
	root := &etree.Element{Tag: "Root"}
	root.CreateAttr("Id", "dup")
	child := root.CreateElement("Child")
	child.CreateAttr("Id", "dup")

	err := reg.Index(root)
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	reg := idreg.New("Id")
	root := buildTree()
	require.NoError(t, reg.Index(root))

	reg.Reset()
	_, ok := reg.Lookup("root-id")
	assert.False(t, ok)
}

func TestIndexSameElementTwiceIsNotADuplicate(t *testing.T) {
	reg := idreg.New("Id")
	root := buildTree()
	require.NoError(t, reg.Index(root))
	// Re-indexing the same tree (e.g. a second verify against the same
	// registry before Reset) must not treat a node's own id as a clash
	// with itself.
	require.NoError(t, reg.Index(root))
}
