package attrdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPreservesInsertionOrder(t *testing.T) {
	d := New()
	d.Set("c", 1)
	d.Set("a", 2)
	d.Set("b", 3)

	assert.Equal(t, []string{"c", "a", "b"}, d.Keys())

	// Replacing a key keeps its position.
	d.Set("a", 20)
	assert.Equal(t, []string{"c", "a", "b"}, d.Keys())
	v, ok := d.Get("a")
	require.True(t, ok)
	assert.Equal(t, 20, v)
}

func TestDelete(t *testing.T) {
	d := New()
	d.Set("a", 1)
	d.Set("b", 2)

	assert.True(t, d.Delete("a"))
	assert.False(t, d.Delete("a"))
	assert.Equal(t, []string{"b"}, d.Keys())
	assert.Equal(t, 1, d.Len())
}

func TestClear(t *testing.T) {
	d := New()
	d.Set("a", 1)
	d.Set("b", 2)
	d.Clear()

	assert.Zero(t, d.Len())
	assert.Empty(t, d.Keys())
}

func TestAllIterationOrder(t *testing.T) {
	d := New()
	d.Set("z", 1)
	d.Set("y", 2)
	d.Set("x", 3)

	var keys []string
	for k := range d.All() {
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"z", "y", "x"}, keys)
}

func TestGlobKeys(t *testing.T) {
	d := New()
	d.Set("hpl", map[string]any{})
	d.Set("hpcg", map[string]any{})
	d.Set("gromacs", map[string]any{})

	keys, err := d.GlobKeys("hp*", "software_specs")
	require.NoError(t, err)
	assert.Equal(t, []string{"hpl", "hpcg"}, keys)

	_, err = d.GlobKeys("wrf*", "software_specs")
	assert.ErrorContains(t, err, "matched no keys")
}

func TestCopyIsDeep(t *testing.T) {
	d := New()
	d.Set("fom", map[string]any{
		"units":    "s",
		"contexts": []string{"step"},
	})
	nested := New()
	nested.Set("my_var", map[string]any{"default": "1.0"})
	d.Set("test_wl", nested)

	cp := d.Copy()

	// Mutate the copy every way we can.
	cp.Set("extra", true)
	entry := mustEntry(t, cp, "fom")
	entry["units"] = "ms"
	entry["contexts"].([]string)[0] = "time"
	nestedCp, _ := cp.Get("test_wl")
	nestedCp.(*Dict).Set("other_var", map[string]any{})

	// The original is untouched.
	assert.False(t, d.Has("extra"))
	orig := mustEntry(t, d, "fom")
	assert.Equal(t, "s", orig["units"])
	assert.Equal(t, []string{"step"}, orig["contexts"])
	assert.Equal(t, []string{"my_var"}, nested.Keys())
}

func mustEntry(t *testing.T, d *Dict, key string) map[string]any {
	t.Helper()
	v, ok := d.Get(key)
	require.True(t, ok)
	entry, ok := v.(map[string]any)
	require.True(t, ok)
	return entry
}
