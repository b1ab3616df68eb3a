package sentinel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultPatterns = []string{".git", ".env", ".svn", ".hg", "re:~$"}

func newSentinel(t *testing.T) *Sentinel {
	t.Helper()
	s, err := New(defaultPatterns)
	require.NoError(t, err)
	return s
}

func TestInspect_BlocksForbiddenPaths(t *testing.T) {
	s := newSentinel(t)

	paths := []string{
		"/.git/config",
		"/.GIT/HEAD",
		"/static/.Env",
		"/.svn/entries",
		"/repo/.hg/store",
		"/%2egit/config",
		"/%2Egit/config",
		"/%2E%47%49%54/HEAD",
		"/%252egit/config",
		"/%25252e%65nv",
		"/backup/index.php~",
		"/backup/index.php%7E",
	}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			v, err := s.Inspect(p)
			require.NoError(t, err)
			assert.True(t, v.Blocked)
			assert.NotEmpty(t, v.Pattern)
		})
	}
}

func TestInspect_AllowsOrdinaryPaths(t *testing.T) {
	s := newSentinel(t)

	paths := []string{
		"/",
		"/api/properties",
		"/api/properties/3f2a/offers",
		"/health",
		"/search/100%25",
		"/a%20b",
		"/github/settings",
		"/environment",
	}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			v, err := s.Inspect(p)
			require.NoError(t, err)
			assert.False(t, v.Blocked)
		})
	}
}

func TestInspect_DecodedPathReported(t *testing.T) {
	s := newSentinel(t)

	v, err := s.Inspect("/%2EGit/Config")
	require.NoError(t, err)
	assert.True(t, v.Blocked)
	assert.Equal(t, "/.git/config", v.Decoded)
	assert.Equal(t, ".git", v.Pattern)

	v, err = s.Inspect("/A%20B")
	require.NoError(t, err)
	assert.Equal(t, "/a b", v.Decoded)
}

func TestInspect_MalformedFailsClosed(t *testing.T) {
	s := newSentinel(t)

	for _, p := range []string{"/%zz", "/abc%", "/%2"} {
		v, err := s.Inspect(p)
		assert.ErrorIs(t, err, ErrMalformedPath, p)
		assert.True(t, v.Blocked, p)
	}
}

func TestInspect_TooManyEncodingLayers(t *testing.T) {
	s := newSentinel(t)

	// "a" encoded four times
	v, err := s.Inspect("/%25252561")
	assert.ErrorIs(t, err, ErrMalformedPath)
	assert.True(t, v.Blocked)
}

func TestInspect_Idempotent(t *testing.T) {
	s := newSentinel(t)

	first, err := s.Inspect("/.git/config")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Inspect("/.git/config")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNew_RejectsBadPatterns(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New([]string{".git", "  "})
	assert.Error(t, err)

	_, err = New([]string{"re:("})
	assert.Error(t, err)
}

func TestPatterns_PreservesOrder(t *testing.T) {
	s := newSentinel(t)
	assert.Equal(t, defaultPatterns, s.Patterns())
}
