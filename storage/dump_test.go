package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/teranos/entitystore/digest"
	"github.com/teranos/entitystore/storage/testutil"
)

func TestDumpEntity(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	mt := addModule(t, b, s, "core", testutil.SourceA)

	d := DumpEntity(b, mt.root)
	assert.Equal(t, mt.root.String(), d.ID)
	assert.Equal(t, "ContentRoot", d.Type)
	assert.Equal(t, "a", d.Source)
	assert.Empty(t, d.SymbolicID)
	assert.Equal(t, digest.HexHash(digest.ContentHash(b.Get(mt.root))), d.ContentHash)
	assert.Equal(t, map[string]string{
		s.Reg.Describe(s.ModuleContentRoots): mt.module.String(),
	}, d.Parents)
	assert.Equal(t, map[string][]string{
		s.Reg.Describe(s.ContentRootSourceRoots): {mt.src1.String(), mt.src2.String()},
	}, d.Children)

	m := DumpEntity(b, mt.module)
	assert.Equal(t, "Module:core", m.SymbolicID)
	assert.Nil(t, m.Parents)

	out, err := yaml.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(out), "name: core")
	assert.Contains(t, string(out), "symbolic_id: Module:core")
}

func TestDumpEntity_Missing(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	mt := addModule(t, b, s, "core", testutil.SourceA)
	require.NoError(t, b.RemoveEntity(mt.src2))

	d := DumpEntity(b, mt.src2)
	assert.Equal(t, "SourceRoot", d.Type)
	assert.Nil(t, d.Data)
	assert.Empty(t, d.ContentHash)
}

func TestDump_Truncates(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	addModule(t, b, s, "core", testutil.SourceA)

	full := Dump(b, 0)
	assert.Len(t, full.Entities, 4)
	assert.Zero(t, full.Truncated)
	assert.Equal(t, "Module", full.Entities[0].Type)

	capped := Dump(b, 3)
	assert.Len(t, capped.Entities, 3)
	assert.Equal(t, 1, capped.Truncated)

	out, err := yaml.Marshal(capped)
	require.NoError(t, err)
	assert.Contains(t, string(out), "truncated: 1")
}
