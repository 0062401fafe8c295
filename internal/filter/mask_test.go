package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskLastMatchWins(t *testing.T) {
	m, err := NewMask([]string{"+*.go", "-*_test.go"}, false)
	require.NoError(t, err)

	assert.True(t, m.Match("/main.go"))
	assert.False(t, m.Match("/main_test.go"))
	assert.False(t, m.Match("/README.md"))
}

func TestMaskDoubleStarCrossesSeparators(t *testing.T) {
	m, err := NewMask([]string{"+/src/**/*.go"}, false)
	require.NoError(t, err)

	assert.True(t, m.Match("/src/a.go"))
	assert.True(t, m.Match("/src/pkg/sub/b.go"))
	assert.False(t, m.Match("/other/a.go"))
}

func TestMaskSingleStarStaysWithinSegment(t *testing.T) {
	m, err := NewMask([]string{"+/src/*.go"}, false)
	require.NoError(t, err)

	assert.True(t, m.Match("/src/a.go"))
	assert.False(t, m.Match("/src/pkg/b.go"))
}

func TestNilMaskSelectsEverything(t *testing.T) {
	var m *Mask
	assert.True(t, m.Match("/anything"))
}

func TestSelectionMaskIgnoresDirectories(t *testing.T) {
	m, err := NewMask([]string{"-*.tmp"}, true)
	require.NoError(t, err)
	sel := SelectionMask{Mask: m}

	assert.False(t, sel.Selects("cache.tmp", false))
	assert.True(t, sel.Selects("cache.tmp", true))
	assert.True(t, sel.Selects("main.go", false))
}

func TestSubtreeMaskAppliesToDirectoriesToo(t *testing.T) {
	m, err := NewMask([]string{"-/vendor", "-/vendor/**"}, true)
	require.NoError(t, err)
	sub := SubtreeMask{Mask: m}

	assert.False(t, sub.Selects("/vendor"))
	assert.False(t, sub.Selects("/vendor/pkg/a.go"))
	assert.True(t, sub.Selects("/src/a.go"))
}

func TestEAMaskFiltersByKey(t *testing.T) {
	m, err := NewMask([]string{"+user.*", "-user.secret"}, false)
	require.NoError(t, err)
	ea := EAMask{Mask: m}

	assert.True(t, ea.Selects("user.comment"))
	assert.False(t, ea.Selects("user.secret"))
	assert.False(t, ea.Selects("system.posix_acl_access"))
}
