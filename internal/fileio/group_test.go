package fileio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
}

func newTestIterator(t *testing.T, names ...string) *GroupIterator {
	t.Helper()
	dir := t.TempDir()
	touch(t, dir, names...)
	g, err := NewFileGroupIterator(dir, "*.img", "<BODY1>_<ID1>_<BODY2>", nil, nil)
	require.NoError(t, err)
	return g
}

func memberNames(g Group) []string {
	out := make([]string, len(g.Members))
	for i, m := range g.Members {
		out[i] = m.Name()
	}
	return out
}

func TestGroupIterator_GroupsByTag(t *testing.T) {
	g := newTestIterator(t, "a_1_x.img", "b_2_x.img", "c_1_y.img", "d_3_y.img")
	require.Equal(t, 0, g.Len())

	require.NoError(t, g.SetGrouping([]string{"ID1"}, nil))
	assert.Equal(t, []string{"ID1"}, g.GroupTags())
	require.Equal(t, 3, g.Len())

	first, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, []any{1.0}, first.Key)
	assert.Equal(t, "1", first.Label())
	assert.ElementsMatch(t, []string{"a_1_x.img", "c_1_y.img"}, memberNames(first))
	assert.Equal(t, 2, g.Len())
}

func TestGroupIterator_MultipleTags(t *testing.T) {
	g := newTestIterator(t, "a_1_x.img", "a_1_y.img", "a_2_x.img")
	require.NoError(t, g.SetGrouping([]string{"BODY1", "ID1"}, nil))
	require.Equal(t, 2, g.Len())

	var labels []string
	for grp := range g.All() {
		labels = append(labels, grp.Label())
	}
	assert.ElementsMatch(t, []string{"a,1", "a,2"}, labels)
}

func TestGroupIterator_Mapping(t *testing.T) {
	g := newTestIterator(t, "a_1_x.img", "b_2_x.img", "c_3_x.img")
	err := g.SetGrouping([]string{"ID1"}, Mapping{"1": "low", "2": "low", "3": "high"})
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())

	byLabel := map[string][]string{}
	for grp := range g.All() {
		byLabel[grp.Label()] = memberNames(grp)
	}
	assert.ElementsMatch(t, []string{"a_1_x.img", "b_2_x.img"}, byLabel["low"])
	assert.ElementsMatch(t, []string{"c_3_x.img"}, byLabel["high"])
}

func TestGroupIterator_UnmappedValue(t *testing.T) {
	g := newTestIterator(t, "a_1_x.img", "b_2_x.img", "c_3_x.img")
	require.NoError(t, g.SetGrouping([]string{"BODY2"}, nil))
	require.Equal(t, 1, g.Len())

	err := g.SetGrouping([]string{"ID1"}, Mapping{"1": "a", "2": "a"})
	require.ErrorIs(t, err, ErrUnmappedValue)

	// failed regrouping keeps the previous groups
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, []string{"BODY2"}, g.GroupTags())
}

func TestGroupIterator_EmptyMappingIsNoMapping(t *testing.T) {
	g := newTestIterator(t, "a_1_x.img", "b_2_x.img")
	require.NoError(t, g.SetGrouping([]string{"ID1"}, Mapping{}))
	require.Equal(t, 2, g.Len())
	first, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, []any{1.0}, first.Key)
}

func TestGroupIterator_InvalidTag(t *testing.T) {
	g := newTestIterator(t, "a_1_x.img")
	err := g.SetGrouping([]string{"ID9"}, nil)
	require.ErrorIs(t, err, ErrInvalidGroupingTag)
}

func TestGroupIterator_SyntheticTags(t *testing.T) {
	g := newTestIterator(t, "a_1_x.img", "b_2_y.img")
	require.NoError(t, g.SetGrouping([]string{TagExt}, nil))
	require.Equal(t, 1, g.Len())
	grp, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, ".img", grp.Label())
	assert.Len(t, grp.Members, 2)
}

func TestGroupIterator_DestructiveConsumption(t *testing.T) {
	g := newTestIterator(t, "a_1_x.img", "b_2_x.img")
	require.NoError(t, g.SetGrouping([]string{"ID1"}, nil))

	n := 0
	for range g.All() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, g.Len())

	_, err := g.Next()
	require.ErrorIs(t, err, ErrExhausted)

	// the workspace itself is not consumed, so regrouping restores the groups
	require.NoError(t, g.SetGrouping([]string{"ID1"}, nil))
	assert.Equal(t, 2, g.Len())
}

func TestGroupIterator_EarlyBreakKeepsRest(t *testing.T) {
	g := newTestIterator(t, "a_1_x.img", "b_2_x.img", "c_3_x.img")
	require.NoError(t, g.SetGrouping([]string{"ID1"}, nil))
	for range g.All() {
		break
	}
	assert.Equal(t, 2, g.Len())
}

func TestGroupIterator_FloatAndStringKeysDiffer(t *testing.T) {
	assert.NotEqual(t, keyID([]any{1.0}), keyID([]any{"1"}))
	assert.Equal(t, keyID([]any{1.0, "a"}), keyID([]any{1.0, "a"}))
}

// Every record ends up in exactly one group and groups never share a key.
func TestGroupIterator_Partition(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()
		count := rapid.IntRange(1, 12).Draw(rt, "files")
		names := map[string]bool{}
		for i := range count {
			body := rapid.SampledFrom([]string{"a", "b", "c"}).Draw(rt, "body")
			id := rapid.IntRange(1, 4).Draw(rt, "id")
			name := body + "_" + itoa(id) + "_" + itoa(i) + ".img"
			names[name] = true
			if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
				rt.Fatal(err)
			}
		}
		tags := rapid.SampledFrom([][]string{{"BODY1"}, {"ID1"}, {"BODY1", "ID1"}}).Draw(rt, "tags")

		g, err := NewFileGroupIterator(dir, "*.img", "<BODY1>_<ID1>_<N>", tags, nil)
		if err != nil {
			rt.Fatal(err)
		}

		seen := map[string]bool{}
		keys := map[string]bool{}
		for grp := range g.All() {
			id := keyID(grp.Key)
			if keys[id] {
				rt.Fatalf("duplicate group key %s", grp.Label())
			}
			keys[id] = true
			for _, m := range grp.Members {
				if seen[m.Name()] {
					rt.Fatalf("%s in more than one group", m.Name())
				}
				seen[m.Name()] = true
				if keyID(m.Values(tags...)) != id {
					rt.Fatalf("%s grouped under %s", m.Name(), grp.Label())
				}
			}
		}
		if len(seen) != len(names) {
			rt.Fatalf("grouped %d of %d files", len(seen), len(names))
		}
	})
}

func itoa(i int) string {
	return FormatValue(float64(i))
}
