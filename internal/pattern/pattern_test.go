package pattern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	assert.True(t, Match("hpl", "hpl"))
	assert.True(t, Match("*", "anything"))
	assert.True(t, Match("conus_*", "conus_12km"))
	assert.False(t, Match("conus_*", "CONUS_12km"))
	assert.False(t, Match("[", "[")) // invalid pattern matches nothing
}

func TestFilter(t *testing.T) {
	keys := []string{"cir1", "cir2", "rc_8", "rlc_8", "rc_16"}

	assert.Equal(t, []string{"cir1", "cir2"}, Filter(keys, "cir*"))
	assert.Equal(t, []string{"rc_8", "rc_16"}, Filter(keys, "rc_*"))
	assert.Nil(t, Filter(keys, "xyz*"))
}

func TestMatchKeys(t *testing.T) {
	keys := []string{"foo", "bar", "baz"}

	t.Run("preserves order", func(t *testing.T) {
		matched, err := MatchKeys(keys, "ba*", "executables")
		require.NoError(t, err)
		assert.Equal(t, []string{"bar", "baz"}, matched)
	})

	t.Run("zero matches is an error", func(t *testing.T) {
		_, err := MatchKeys(keys, "qux*", "executables")
		require.Error(t, err)

		var noMatch *ErrNoMatch
		require.True(t, errors.As(err, &noMatch))
		assert.Equal(t, "qux*", noMatch.Pattern)
		assert.ErrorContains(t, err, "executables")
	})
}
