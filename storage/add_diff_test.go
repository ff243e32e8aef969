package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/storage/changelog"
	"github.com/teranos/entitystore/storage/index"
	"github.com/teranos/entitystore/storage/storeerror"
	"github.com/teranos/entitystore/storage/testutil"
)

func TestAddDiff_EmptyDiffChangesNothing(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	addModule(t, b, s, "core", testutil.SourceA)
	before := b.ToSnapshot()
	count := b.ModificationCount()
	b.ResetChanges()

	require.NoError(t, b.AddDiff(nil))
	require.NoError(t, b.AddDiff(before.ToBuilder()))

	assert.False(t, b.HasChanges())
	assert.Equal(t, count, b.ModificationCount())
	assert.True(t, b.HasSameEntities(before))
}

func TestAddDiff_AppliesChanges(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	core := addModule(t, b, s, "core", testutil.SourceA)
	diff := b.ToSnapshot().ToBuilder(WithConsistencyMode(ModeSync))
	b.ResetChanges()

	ext := addModule(t, diff, s, "ext", testutil.SourceB)
	facet, err := diff.AddEntity(testutil.NewFacet("web", testutil.SourceB), ParentRef(s.ModuleFacets, core.module))
	require.NoError(t, err)
	require.NoError(t, diff.ModifyEntity(core.src1, func(m *Mutation) {
		m.Data().(*testutil.SourceRoot).RootType = "java"
	}))
	require.NoError(t, diff.RemoveEntity(core.src2))

	require.NoError(t, b.AddDiff(diff))

	assert.True(t, b.HasSameEntities(diff))
	assert.Equal(t, "java", b.Get(core.src1).(*testutil.SourceRoot).RootType)
	assert.Nil(t, b.Get(core.src2))
	assert.Equal(t, []entity.EntityID{core.src1}, b.Children(s.ContentRootSourceRoots, core.root))
	assert.Equal(t, []entity.EntityID{facet}, b.Children(s.ModuleFacets, core.module))
	assert.True(t, b.Contains(entity.NameID{Type: "Module", Name: "ext"}))
	assert.False(t, b.IsBroken())

	kinds := changeKinds(b)
	assert.Equal(t, changelog.KindAdd, kinds[ext.module])
	assert.Equal(t, changelog.KindAdd, kinds[facet])
	assert.Equal(t, changelog.KindReplace, kinds[core.src1])
	assert.Equal(t, changelog.KindRemove, kinds[core.src2])
	requireConsistent(t, b)
}

func TestAddDiff_RemapsCollidingIDs(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	core := addModule(t, b, s, "core", testutil.SourceA)
	diff := b.ToSnapshot().ToBuilder(WithConsistencyMode(ModeSync))

	local, err := b.AddEntity(testutil.NewModule("local", testutil.SourceA))
	require.NoError(t, err)
	ext := addModule(t, diff, s, "ext", testutil.SourceB)
	require.Equal(t, local, ext.module, "both sides hand out the same next id")

	require.NoError(t, b.AddDiff(diff))

	d, ok := b.Resolve(entity.NameID{Type: "Module", Name: "ext"})
	require.True(t, ok)
	extID := b.IDOf(d)
	assert.NotEqual(t, local, extID)
	assert.Equal(t, "local", b.Get(local).(*testutil.Module).Name)
	roots := b.Children(s.ModuleContentRoots, extID)
	require.Len(t, roots, 1)
	assert.Equal(t, "/ext", b.Get(roots[0]).(*testutil.ContentRoot).URL)
	assert.Len(t, b.Children(s.ContentRootSourceRoots, roots[0]), 2)
	assert.Equal(t, []entity.EntityID{core.root}, b.Children(s.ModuleContentRoots, core.module))
	assert.Equal(t, 3, b.EntityCount(s.Module))
	requireConsistent(t, b)
}

func TestAddDiff_ForwardReferences(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	diff := b.ToSnapshot().ToBuilder(WithConsistencyMode(ModeDisabled))
	_, err := b.AddEntity(testutil.NewNamed("taken", testutil.SourceA))
	require.NoError(t, err)

	// The child is recorded before its parent.
	c1, err := diff.AddEntity(testutil.NewNamedChild("first", testutil.SourceB))
	require.NoError(t, err)
	c2, err := diff.AddEntity(testutil.NewNamedChild("second", testutil.SourceB))
	require.NoError(t, err)
	_, err = diff.AddEntity(testutil.NewNamed("owner", testutil.SourceB), ChildrenRef(s.NamedChildren, c2, c1))
	require.NoError(t, err)

	require.NoError(t, b.AddDiff(diff))

	d, ok := b.Resolve(entity.NameID{Type: "Named", Name: "owner"})
	require.True(t, ok)
	kids := b.Children(s.NamedChildren, b.IDOf(d))
	require.Len(t, kids, 2)
	assert.Equal(t, "second", b.Get(kids[0]).(*testutil.NamedChild).Value)
	assert.Equal(t, "first", b.Get(kids[1]).(*testutil.NamedChild).Value)
	assert.Equal(t, 2, b.EntityCount(s.Named))
	assert.False(t, b.IsBroken())
	requireConsistent(t, b)
}

func TestAddDiff_CascadingRemoval(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	core := addModule(t, b, s, "core", testutil.SourceA)
	diff := b.ToSnapshot().ToBuilder(WithConsistencyMode(ModeSync))
	b.ResetChanges()
	require.NoError(t, diff.RemoveEntity(core.module))

	require.NoError(t, b.AddDiff(diff))

	assert.Equal(t, map[entity.EntityID]changelog.Kind{
		core.module: changelog.KindRemove,
		core.root:   changelog.KindRemove,
		core.src1:   changelog.KindRemove,
		core.src2:   changelog.KindRemove,
	}, changeKinds(b))
	assert.Empty(t, b.Types())
}

func TestAddDiff_MergesChildLists(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	m1, err := b.AddEntity(testutil.NewModule("one", testutil.SourceA))
	require.NoError(t, err)
	m2, err := b.AddEntity(testutil.NewModule("two", testutil.SourceA))
	require.NoError(t, err)
	facet, err := b.AddEntity(testutil.NewFacet("web", testutil.SourceA), ParentRef(s.ModuleFacets, m1))
	require.NoError(t, err)
	diff := b.ToSnapshot().ToBuilder(WithConsistencyMode(ModeSync))

	kept, err := b.AddEntity(testutil.NewFacet("local", testutil.SourceA), ParentRef(s.ModuleFacets, m1))
	require.NoError(t, err)
	require.NoError(t, diff.ModifyEntity(facet, func(m *Mutation) {
		m.SetParent(s.ModuleFacets, m2)
	}))

	require.NoError(t, b.AddDiff(diff))

	assert.Equal(t, []entity.EntityID{kept}, b.Children(s.ModuleFacets, m1))
	assert.Equal(t, []entity.EntityID{facet}, b.Children(s.ModuleFacets, m2))
	requireConsistent(t, b)
}

func TestAddDiff_EvictsSymbolicIDHolder(t *testing.T) {
	s := testutil.NewSchema()
	b, logs := observedBuilder(t, s, zapcore.ErrorLevel)
	diff := b.ToSnapshot().ToBuilder(WithConsistencyMode(ModeSync))
	stale := addModule(t, b, s, "dup", testutil.SourceA)
	_, err := diff.AddEntity(testutil.NewModule("dup", testutil.SourceB))
	require.NoError(t, err)

	require.NoError(t, b.AddDiff(diff), "reports are not returned by lenient builders")

	d, ok := b.Resolve(entity.NameID{Type: "Module", Name: "dup"})
	require.True(t, ok)
	assert.Equal(t, testutil.SourceB, d.Source())
	assert.Nil(t, b.Get(stale.root), "the evicted entity takes its dependants along")
	entries := logs.FilterMessage("Symbolic id collision, stale entity evicted").All()
	require.Len(t, entries, 1)
	assert.Equal(t, string(storeerror.CategoryIdentityCollision), entries[0].ContextMap()["error_category"])
	assert.NotEmpty(t, entries[0].ContextMap()["report_id"])
	requireConsistent(t, b)
}

func TestAddDiff_StrictReturnsCollision(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s, WithStrict(true))
	diff := b.ToSnapshot().ToBuilder()
	_, err := b.AddEntity(testutil.NewLibrary("guava", testutil.SourceA))
	require.NoError(t, err)
	_, err = diff.AddEntity(testutil.NewLibrary("guava", testutil.SourceB))
	require.NoError(t, err)

	err = b.AddDiff(diff)
	require.Error(t, err)
	assert.True(t, storeerror.HasCategory(err, storeerror.CategoryIdentityCollision))
	assert.Equal(t, 1, b.EntityCount(s.Library))
}

func TestAddDiff_MissingParentBreaksBuilder(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s, WithStrict(true))
	core := addModule(t, b, s, "core", testutil.SourceA)
	diff := b.ToSnapshot().ToBuilder()
	_, err := diff.AddEntity(testutil.NewContentRoot("/late", testutil.SourceB), ParentRef(s.ModuleContentRoots, core.module))
	require.NoError(t, err)
	require.NoError(t, b.RemoveEntity(core.module))

	err = b.AddDiff(diff)
	require.Error(t, err)
	assert.True(t, storeerror.HasCategory(err, storeerror.CategoryBrokenReference))
	assert.True(t, b.IsBroken())
}

func TestAddDiff_CopiesIndexEntries(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	diff := b.ToSnapshot().ToBuilder(WithConsistencyMode(ModeSync))
	_, err := b.AddEntity(testutil.NewModule("local", testutil.SourceA))
	require.NoError(t, err)
	ext := addModule(t, diff, s, "ext", testutil.SourceB)
	key := index.NewMappingKey[int]("order")
	MutableExternalMapping(diff, key).Set(ext.module, 7)
	diff.MutableVirtualFileIndex().Index(ext.src1, "url", "file:///ext/src")

	require.NoError(t, b.AddDiff(diff))

	d, ok := b.Resolve(entity.NameID{Type: "Module", Name: "ext"})
	require.True(t, ok)
	extID := b.IDOf(d)
	v, ok := ExternalMapping(b, key).Get(extID)
	require.True(t, ok)
	assert.Equal(t, 7, v)
	found := VirtualFiles(b).Find("file:///ext/src")
	require.Len(t, found, 1)
	assert.Equal(t, "/ext/src", b.Get(found[0]).(*testutil.SourceRoot).URL)
	requireConsistent(t, b)
}

// moveRoot removes the content root of a in diff and adds a new root under
// b after snapshot has frozen diff in between.
func moveRoot(t *testing.T, s *testutil.Schema, diff *Builder, a, b moduleTree, snapshot func()) entity.EntityID {
	t.Helper()
	require.NoError(t, diff.RemoveEntity(a.root))
	snapshot()
	moved, err := diff.AddEntity(testutil.NewContentRoot("/moved", testutil.SourceB), ParentRef(s.ModuleContentRoots, b.module))
	require.NoError(t, err)
	assert.NotEqual(t, a.root, moved, "a slot freed in the running transaction is not handed out")
	assert.Equal(t, changelog.KindRemove, changeKinds(diff)[a.root])
	assert.Equal(t, changelog.KindAdd, changeKinds(diff)[moved])
	return moved
}

func requireMovedRoot(t *testing.T, s *testutil.Schema, target *Builder, a, b moduleTree) {
	t.Helper()
	assert.Empty(t, target.Children(s.ModuleContentRoots, a.module))
	roots := target.Children(s.ModuleContentRoots, b.module)
	require.Len(t, roots, 2)
	assert.Equal(t, "/moved", target.Get(roots[1]).(*testutil.ContentRoot).URL)
	parent, ok := target.Parent(s.ModuleContentRoots, roots[1])
	require.True(t, ok)
	assert.Equal(t, b.module, parent)
	requireConsistent(t, target)
}

func TestAddDiff_SnapshotMidTransaction(t *testing.T) {
	s := testutil.NewSchema()
	target := newTestBuilder(t, s)
	a := addModule(t, target, s, "a", testutil.SourceA)
	b := addModule(t, target, s, "b", testutil.SourceA)
	diff := target.ToSnapshot().ToBuilder(WithConsistencyMode(ModeSync))
	target.ResetChanges()

	moveRoot(t, s, diff, a, b, func() { diff.ToSnapshot() })
	require.NoError(t, target.AddDiff(diff))

	requireMovedRoot(t, s, target, a, b)
}

func TestAddDiff_SnapshotMidTransactionAsync(t *testing.T) {
	s := testutil.NewSchema()
	c := newTestChecker(t, 4)
	c.Start()
	target := newTestBuilder(t, s)
	a := addModule(t, target, s, "a", testutil.SourceA)
	b := addModule(t, target, s, "b", testutil.SourceA)
	diff := target.ToSnapshot().ToBuilder(WithConsistencyMode(ModeAsync), WithChecker(c))
	target.ResetChanges()

	moveRoot(t, s, diff, a, b, func() {
		// an async merge freezes diff to queue its check
		other := EmptySnapshot(s.Reg).ToBuilder()
		_, err := other.AddEntity(testutil.NewLibrary("guava", testutil.SourceB))
		require.NoError(t, err)
		require.NoError(t, diff.AddDiff(other))
	})
	require.NoError(t, c.Flush(t.Context()))
	assert.False(t, diff.IsBroken())

	require.NoError(t, target.AddDiff(diff))
	requireMovedRoot(t, s, target, a, b)
	assert.Equal(t, 1, target.EntityCount(s.Library))
}

func TestResetChanges_ReleasesFreedSlots(t *testing.T) {
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	a := addModule(t, b, s, "a", testutil.SourceA)
	require.NoError(t, b.RemoveEntity(a.module))
	b.ToSnapshot()

	again, err := b.AddEntity(testutil.NewModule("again", testutil.SourceA))
	require.NoError(t, err)
	assert.NotEqual(t, a.module, again)

	b.ResetChanges()
	reused, err := b.AddEntity(testutil.NewModule("reused", testutil.SourceA))
	require.NoError(t, err)
	assert.Equal(t, a.module, reused)
	requireConsistent(t, b)
}
