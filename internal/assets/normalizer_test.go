package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func TestNormalize(t *testing.T) {
	assert.Equal(t, WrappedSOL, Normalize(NativeSOL))
	assert.Equal(t, WrappedSOL, Normalize(WrappedSOL))
	assert.Equal(t, usdcMint, Normalize(usdcMint))

	// Idempotent
	assert.Equal(t, Normalize(NativeSOL), Normalize(Normalize(NativeSOL)))
	assert.Equal(t, Normalize(usdcMint), Normalize(Normalize(usdcMint)))
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(NativeSOL))
	assert.NoError(t, ValidateAddress(WrappedSOL))
	assert.NoError(t, ValidateAddress(usdcMint))

	assert.ErrorIs(t, ValidateAddress(""), ErrInvalidAddress)
	assert.ErrorIs(t, ValidateAddress("tooshort"), ErrInvalidAddress)
	// 0, O, I, l are not base58
	assert.ErrorIs(t, ValidateAddress("0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl"), ErrInvalidAddress)
	// Valid base58 but wrong byte length
	assert.ErrorIs(t, ValidateAddress("111111111111111111111111111111111111111111"), ErrInvalidAddress)
}

func TestValidatePair(t *testing.T) {
	assert.NoError(t, ValidatePair(NativeSOL, usdcMint))
	assert.NoError(t, ValidatePair(usdcMint, WrappedSOL))

	// Identical before normalization
	assert.ErrorIs(t, ValidatePair(usdcMint, usdcMint), ErrSameAsset)

	// Native vs wrapped form of the same asset
	err := ValidatePair(NativeSOL, WrappedSOL)
	require.ErrorIs(t, err, ErrSameAsset)
	assert.Contains(t, err.Error(), "native and wrapped")

	err = ValidatePair(WrappedSOL, NativeSOL)
	assert.ErrorIs(t, err, ErrSameAsset)
}

func TestWrapInstructions(t *testing.T) {
	plan := WrapInstructions(NativeSOL, usdcMint, 1.5)
	assert.True(t, plan.NeedsWrapIn)
	assert.False(t, plan.NeedsUnwrapOut)
	assert.Equal(t, 1.5, plan.WrapAmount)
	assert.Equal(t, WrappedSOL, plan.NormalizedIn)
	assert.Equal(t, usdcMint, plan.NormalizedOut)

	plan = WrapInstructions(usdcMint, NativeSOL, 25)
	assert.False(t, plan.NeedsWrapIn)
	assert.True(t, plan.NeedsUnwrapOut)
	assert.Zero(t, plan.WrapAmount)

	plan = WrapInstructions(usdcMint, WrappedSOL, 10)
	assert.False(t, plan.NeedsWrapIn)
	assert.False(t, plan.NeedsUnwrapOut)
}
