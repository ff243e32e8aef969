package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/storage/changelog"
	"github.com/teranos/entitystore/storage/storeerror"
	"github.com/teranos/entitystore/storage/testutil"
)

// addRoots adds a content root at url under module with one source root per
// path.
func addRoots(t *testing.T, b *Builder, s *testutil.Schema, module entity.EntityID, url string, src entity.Source, paths ...string) (entity.EntityID, []entity.EntityID) {
	t.Helper()
	root, err := b.AddEntity(testutil.NewContentRoot(url, src), ParentRef(s.ModuleContentRoots, module))
	require.NoError(t, err)
	var kids []entity.EntityID
	for _, p := range paths {
		k, err := b.AddEntity(testutil.NewSourceRoot(url+p, src), ParentRef(s.ContentRootSourceRoots, root))
		require.NoError(t, err)
		kids = append(kids, k)
	}
	return root, kids
}

func countKinds(b *Builder) map[changelog.Kind]int {
	out := map[changelog.Kind]int{}
	for _, k := range changeKinds(b) {
		out[k]++
	}
	return out
}

func TestReplaceBySource_MakesSourceEqual(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	core := addModule(t, b, s, "core", testutil.SourceA)
	ext := addModule(t, b, s, "ext", testutil.SourceB)
	_, err := b.AddEntity(testutil.NewLibrary("old", testutil.SourceA))
	require.NoError(t, err)
	b.ResetChanges()

	rw := newTestBuilder(t, s)
	rwCore, err := rw.AddEntity(testutil.NewModule("core", testutil.SourceA))
	require.NoError(t, err)
	addRoots(t, rw, s, rwCore, "/core", testutil.SourceA, "/src", "/gen")
	addModule(t, rw, s, "ext", testutil.SourceB)
	_, err = rw.AddEntity(testutil.NewLibrary("new", testutil.SourceA))
	require.NoError(t, err)

	require.NoError(t, b.ReplaceBySource(testutil.OnlySource(testutil.SourceA), rw))

	assert.True(t, b.HasSameEntities(rw), "differing groups: %v", DigestDiff(b, rw))
	assert.NotNil(t, b.Get(core.module), "paired entities keep their ids")
	assert.NotNil(t, b.Get(core.root))
	assert.NotNil(t, b.Get(core.src1))
	assert.Nil(t, b.Get(core.src2))
	assert.NotNil(t, b.Get(ext.src2))
	kids := b.Children(s.ContentRootSourceRoots, core.root)
	require.Len(t, kids, 2)
	assert.Equal(t, core.src1, kids[0])
	assert.Equal(t, "/core/gen", b.Get(kids[1]).(*testutil.SourceRoot).URL)
	assert.Equal(t, map[changelog.Kind]int{
		changelog.KindAdd:    2,
		changelog.KindRemove: 2,
	}, countKinds(b))
	requireConsistent(t, b)
}

func TestReplaceBySource_IdenticalIsNoop(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	addModule(t, b, s, "core", testutil.SourceA)
	addModule(t, b, s, "ext", testutil.SourceB)
	_, err := b.AddEntity(testutil.NewLinked("notes", testutil.SourceA, entity.NameID{Type: "Module", Name: "ext"}))
	require.NoError(t, err)
	snap := b.ToSnapshot()
	b.ResetChanges()
	count := b.ModificationCount()

	require.NoError(t, b.ReplaceBySource(func(entity.Source) bool { return true }, snap))

	assert.False(t, b.HasChanges())
	assert.Equal(t, count, b.ModificationCount())
	assert.True(t, b.HasSameEntities(snap))
}

func TestReplaceBySource_KeepsForeignChildren(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	mod, err := b.AddEntity(testutil.NewModule("core", testutil.SourceA))
	require.NoError(t, err)
	facet, err := b.AddEntity(testutil.NewFacet("web", testutil.SourceB), ParentRef(s.ModuleFacets, mod))
	require.NoError(t, err)

	rw := newTestBuilder(t, s)
	m := testutil.NewModule("core", testutil.SourceA)
	m.Kind = "app"
	_, err = rw.AddEntity(m)
	require.NoError(t, err)

	require.NoError(t, b.ReplaceBySource(testutil.OnlySource(testutil.SourceA), rw))

	assert.Equal(t, "app", b.Get(mod).(*testutil.Module).Kind)
	assert.Equal(t, []entity.EntityID{facet}, b.Children(s.ModuleFacets, mod))
	requireConsistent(t, b)
}

func TestReplaceBySource_ResolvesForeignParents(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	mod, err := b.AddEntity(testutil.NewModule("core", testutil.SourceB))
	require.NoError(t, err)
	other, err := b.AddEntity(testutil.NewModule("other", testutil.SourceB))
	require.NoError(t, err)
	root, _ := addRoots(t, b, s, mod, "/core", testutil.SourceA, "/src")

	// In replaceWith the same root lives under "other".
	rw := newTestBuilder(t, s)
	_, err = rw.AddEntity(testutil.NewModule("core", testutil.SourceB))
	require.NoError(t, err)
	rwOther, err := rw.AddEntity(testutil.NewModule("other", testutil.SourceB))
	require.NoError(t, err)
	addRoots(t, rw, s, rwOther, "/core", testutil.SourceA, "/src", "/test")

	require.NoError(t, b.ReplaceBySource(testutil.OnlySource(testutil.SourceA), rw))

	assert.Empty(t, b.Children(s.ModuleContentRoots, mod))
	assert.Equal(t, []entity.EntityID{root}, b.Children(s.ModuleContentRoots, other))
	assert.Len(t, b.Children(s.ContentRootSourceRoots, root), 2)
	assert.True(t, b.HasSameEntities(rw))
	requireConsistent(t, b)
}

func TestReplaceBySource_DropsChildWithoutParent(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s, WithStrict(true))
	_, err := b.AddEntity(testutil.NewModule("core", testutil.SourceB))
	require.NoError(t, err)

	rw := newTestBuilder(t, s)
	missing, err := rw.AddEntity(testutil.NewModule("missing", testutil.SourceB))
	require.NoError(t, err)
	addRoots(t, rw, s, missing, "/missing", testutil.SourceA)

	err = b.ReplaceBySource(testutil.OnlySource(testutil.SourceA), rw)
	require.Error(t, err)
	assert.True(t, storeerror.HasCategory(err, storeerror.CategoryBrokenReference))
	assert.Zero(t, b.EntityCount(s.ContentRoot))
	requireConsistent(t, b)
}

func TestReplaceBySource_PlaceholderNeverOverridesRealData(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	real := testutil.NewModule("core", testutil.SourceA)
	real.Kind = "app"
	id, err := b.AddEntity(real)
	require.NoError(t, err)
	b.ResetChanges()

	rw := newTestBuilder(t, s)
	_, err = rw.AddEntity(testutil.NewModule("core", testutil.Placeholder))
	require.NoError(t, err)

	filter := func(src entity.Source) bool { return src == testutil.SourceA || src == testutil.Placeholder }
	require.NoError(t, b.ReplaceBySource(filter, rw))

	assert.Equal(t, "app", b.Get(id).(*testutil.Module).Kind)
	assert.Equal(t, testutil.SourceA, b.Get(id).Source())
	assert.False(t, b.HasChanges())
}

func TestReplaceBySource_OneToOneChild(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	p, err := b.AddEntity(testutil.NewOoParent("p", testutil.SourceB))
	require.NoError(t, err)
	old, err := b.AddEntity(testutil.NewOoChild("old", testutil.SourceA), ParentRef(s.OoParentChild, p))
	require.NoError(t, err)

	rw := newTestBuilder(t, s)
	rp, err := rw.AddEntity(testutil.NewOoParent("p", testutil.SourceB))
	require.NoError(t, err)
	_, err = rw.AddEntity(testutil.NewOoChild("new", testutil.SourceA), ParentRef(s.OoParentChild, rp))
	require.NoError(t, err)

	require.NoError(t, b.ReplaceBySource(testutil.OnlySource(testutil.SourceA), rw))

	assert.Nil(t, b.Get(old))
	kids := b.Children(s.OoParentChild, p)
	require.Len(t, kids, 1)
	assert.Equal(t, "new", b.Get(kids[0]).(*testutil.OoChild).Value)
	requireConsistent(t, b)
}

func TestReplaceBySourceAsTree_Report(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	core := addModule(t, b, s, "core", testutil.SourceA)
	lib, err := b.AddEntity(testutil.NewLibrary("guava", testutil.SourceA))
	require.NoError(t, err)

	rw := newTestBuilder(t, s)
	rwCore, err := rw.AddEntity(testutil.NewModule("core", testutil.SourceA))
	require.NoError(t, err)
	_, rwKids := addRoots(t, rw, s, rwCore, "/core", testutil.SourceA, "/src", "/gen")
	changed := testutil.NewLibrary("guava", testutil.SourceA)
	changed.Roots = []string{"guava.jar"}
	rwLib, err := rw.AddEntity(changed)
	require.NoError(t, err)

	report, err := b.ReplaceBySourceAsTree(testutil.OnlySource(testutil.SourceA), rw)
	require.NoError(t, err)

	assert.Equal(t, TargetNoChange, report.Target[core.module].Kind)
	assert.Equal(t, "Module=Module:core", report.Target[core.module].Key)
	assert.Equal(t, TargetNoChange, report.Target[core.root].Kind)
	assert.Equal(t, TargetNoChange, report.Target[core.src1].Kind)
	assert.Equal(t, TargetRemove, report.Target[core.src2].Kind)
	assert.Equal(t, TargetRelabel, report.Target[lib].Kind)
	assert.Equal(t, rwLib, report.Target[lib].Counterpart)

	added := report.ReplaceWith[rwKids[1]]
	assert.Equal(t, ReplaceWithAdd, added.Kind)
	require.NotNil(t, b.Get(added.Target))
	assert.Equal(t, "/core/gen", b.Get(added.Target).(*testutil.SourceRoot).URL)
	assert.Equal(t, ReplaceWithNoChange, report.ReplaceWith[rwKids[0]].Kind)
	assert.Equal(t, core.src1, report.ReplaceWith[rwKids[0]].Target)

	assert.Equal(t, []string{"guava.jar"}, b.Get(lib).(*testutil.Library).Roots)
	assert.True(t, b.HasSameEntities(rw))
	requireConsistent(t, b)
}

// deepChain builds Middle <- Middle <- Middle <- Left, three hops deep.
func deepChain(t *testing.T, b *Builder, s *testutil.Schema, leaf string) {
	t.Helper()
	parent, err := b.AddEntity(testutil.NewMiddle("m1", testutil.SourceA))
	require.NoError(t, err)
	for _, name := range []string{"m2", "m3"} {
		parent, err = b.AddEntity(testutil.NewMiddle(name, testutil.SourceA), ParentRef(s.MiddleChildren, parent))
		require.NoError(t, err)
	}
	_, err = b.AddEntity(testutil.NewLeft(leaf, testutil.SourceA), ParentRef(s.MiddleChildren, parent))
	require.NoError(t, err)
}

func TestReplaceBySourceAsTree_RejectsDeepGraphs(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	deepChain(t, b, s, "old")
	b.ResetChanges()
	rw := newTestBuilder(t, s)
	deepChain(t, rw, s, "new")

	_, err := b.ReplaceBySourceAsTree(testutil.OnlySource(testutil.SourceA), rw)
	require.Error(t, err)
	assert.True(t, errors.IsUnsupportedError(err))
	assert.True(t, storeerror.HasCategory(err, storeerror.CategoryUnsupported))
	assert.False(t, b.HasChanges(), "nothing is applied before the shape check")
}

func TestReplaceBySource_TreeEngineFallsBack(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s, WithEngine(EngineTree))
	deepChain(t, b, s, "old")
	rw := newTestBuilder(t, s)
	deepChain(t, rw, s, "new")

	require.NoError(t, b.ReplaceBySource(testutil.OnlySource(testutil.SourceA), rw))

	assert.True(t, b.HasSameEntities(rw))
	requireConsistent(t, b)
}
