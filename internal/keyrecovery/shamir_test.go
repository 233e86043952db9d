package keyrecovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRecover_RoundTrip(t *testing.T) {
	secret := []byte("correct horse battery staple")
	shares, err := SplitSecret(secret, 3, 5)
	require.NoError(t, err)
	assert.Len(t, shares, 5)

	recovered, err := RecoverSecret(shares[:3])
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
}

func TestSplitRecover_AnyThresholdSubsetWorks(t *testing.T) {
	secret := []byte("another secret value")
	shares, err := SplitSecret(secret, 3, 5)
	require.NoError(t, err)

	subset := []Share{shares[1], shares[3], shares[4]}
	recovered, err := RecoverSecret(subset)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
}

func TestSplitSecret_ThresholdExceedsShares(t *testing.T) {
	_, err := SplitSecret([]byte("x"), 5, 3)
	assert.Error(t, err)
}

func TestSplitSecret_ThresholdTooLow(t *testing.T) {
	_, err := SplitSecret([]byte("x"), 0, 3)
	assert.Error(t, err)
}

func TestRecoverSecret_InsufficientShares(t *testing.T) {
	shares, err := SplitSecret([]byte("secret"), 3, 5)
	require.NoError(t, err)

	_, err = RecoverSecret(shares[:2])
	assert.Error(t, err)
}

func TestRecoverSecret_MismatchedKeyID(t *testing.T) {
	sharesA, err := SplitSecret([]byte("secret-a"), 2, 3)
	require.NoError(t, err)
	sharesB, err := SplitSecret([]byte("secret-b"), 2, 3)
	require.NoError(t, err)

	mixed := []Share{sharesA[0], sharesB[1]}
	_, err = RecoverSecret(mixed)
	assert.Error(t, err)
}

func TestRecoverSecret_InconsistentThreshold(t *testing.T) {
	shares, err := SplitSecret([]byte("secret"), 2, 3)
	require.NoError(t, err)
	tampered := shares[:2]
	tampered[1].Threshold = 3

	_, err = RecoverSecret(tampered)
	assert.Error(t, err)
}

func TestRecoverSecret_ChecksumMismatch(t *testing.T) {
	shares, err := SplitSecret([]byte("secret"), 2, 3)
	require.NoError(t, err)
	subset := shares[:2]
	subset[0].Data[0] ^= 0xFF

	_, err = RecoverSecret(subset)
	assert.Error(t, err)
}

func TestRecoverSecret_NoShares(t *testing.T) {
	_, err := RecoverSecret(nil)
	assert.Error(t, err)
}
