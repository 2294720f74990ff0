package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{"DISABLE_PREFETCH"})

	t.Run("run if enabled", func(t *testing.T) {
		var ran bool
		f.IfSet(FlagDisablePrefetch, func() {
			ran = true
		})
		require.True(t, ran)

		ran = false
		f.IfSet(FlagDisableNodeCache, func() {
			ran = true
		})
		require.False(t, ran)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var ran bool
		f.IfNotSet(FlagDisablePrefetch, func() {
			ran = true
		})
		require.False(t, ran)

		f.IfNotSet(FlagDisableNodeCache, func() {
			ran = true
		})
		require.True(t, ran)
	})

	t.Run("reports and lists set flags", func(t *testing.T) {
		require.True(t, f.IsSet(FlagDisablePrefetch))
		require.False(t, f.IsSet(FlagDisableFrameLog))
		require.Equal(t, []string{"DISABLE_PREFETCH"}, f.List())
	})
}
