package fixture

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/entitystore/entity"
)

var depDecl = &TypeDecl{Name: "Dependency", Links: []string{"library", "runtime"}}

func newDep(fields map[string]string) *Record {
	r := recordFactory(depDecl)().(*Record)
	for k, v := range fields {
		r.Fields[k] = v
	}
	r.SetSource(entity.SourceName("a"))
	return r
}

func TestRecord_SymbolicID(t *testing.T) {
	r := recordFactory(&TypeDecl{Name: "Module", Key: "name"})().(*Record)
	r.Fields["name"] = "core"
	assert.Equal(t, entity.NameID{Type: "Module", Name: "core"}, r.SymbolicID())

	assert.Nil(t, newDep(nil).SymbolicID())
}

func TestRecord_SoftLinks(t *testing.T) {
	r := newDep(map[string]string{"library": "Library:guava", "runtime": "Library:guava", "scope": "Library:ignored"})
	guava := entity.NameID{Type: "Library", Name: "guava"}
	assert.Equal(t, []entity.SymbolicID{guava, guava}, r.SoftLinks())

	assert.True(t, r.UpdateLink(guava, entity.NameID{Type: "Library", Name: "guava-jre"}))
	assert.Equal(t, "Library:guava-jre", r.Fields["library"])
	assert.Equal(t, "Library:guava-jre", r.Fields["runtime"])
	assert.Equal(t, "Library:ignored", r.Fields["scope"])
	assert.False(t, r.UpdateLink(guava, entity.NameID{Type: "Library", Name: "x"}))
}

func TestRecord_CloneAndEquality(t *testing.T) {
	r := newDep(map[string]string{"library": "Library:guava"})
	c := r.Clone().(*Record)
	assert.True(t, r.Equal(c))

	c.Fields["scope"] = "test"
	assert.False(t, r.EqualIgnoringSource(c))
	assert.Empty(t, r.Fields["scope"])

	c = r.Clone().(*Record)
	c.SetSource(entity.SourceName("b"))
	assert.False(t, r.Equal(c))
	assert.True(t, r.EqualIgnoringSource(c))
}

func TestRecord_HashContentIsOrderFree(t *testing.T) {
	a := newDep(map[string]string{"library": "Library:guava", "scope": "compile"})
	b := newDep(map[string]string{"scope": "compile", "library": "Library:guava"})
	var ha, hb bytes.Buffer
	a.HashContent(&ha)
	b.HashContent(&hb)
	assert.Equal(t, ha.String(), hb.String())
}
