package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/policy"
)

func TestThresholds_DefaultsUntilSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th, err := s.Thresholds(ctx, policy.DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultThresholds(), th)

	require.NoError(t, s.SetThreshold(ctx, SettingMinimumStock, 25))
	th, err = s.Thresholds(ctx, policy.DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, policy.Thresholds{MinimumStock: 25, ExpiryMonths: 1}, th)

	require.NoError(t, s.SetThreshold(ctx, SettingExpiryMonths, 6))
	th, err = s.Thresholds(ctx, policy.DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, policy.Thresholds{MinimumStock: 25, ExpiryMonths: 6}, th)
}

func TestSetThreshold_RangeChecked(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	assert.True(t, IsInvalidState(s.SetThreshold(ctx, SettingMinimumStock, 1001)))
	assert.True(t, IsInvalidState(s.SetThreshold(ctx, SettingExpiryMonths, 0)))
	assert.True(t, IsInvalidState(s.SetThreshold(ctx, "colour", 1)))

	_, ok, err := s.Setting(ctx, SettingMinimumStock)
	require.NoError(t, err)
	assert.False(t, ok, "rejected values are not stored")
}
