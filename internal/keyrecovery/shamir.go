// Package keyrecovery implements the Key Recovery (C2) engine: Shamir's
// Secret Sharing over the fixed prime 2**127-1, share serialization,
// multi-directory replication, and recovery with fingerprint validation.
// Reimplemented line-for-line in spirit from
// original_source/security/key_recovery.py's ShamirSecretSharing and
// KeyRecoverySystem classes, using math/big in place of Python's
// arbitrary-precision int.
package keyrecovery

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/dafelhub/dataplatform/internal/apperrors"
)

// prime is the fixed field modulus from spec §4.9 / the original's
// ShamirSecretSharing default: 2**127 - 1, a Mersenne prime.
var prime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 127)
	return p.Sub(p, big.NewInt(1))
}()

// Share is one point on the splitting polynomial, serialized per spec §3's
// RecoveryShare: index, opaque bytes, threshold, total, owning key id,
// checksum.
type Share struct {
	Index     int
	Data      []byte
	Threshold int
	Total     int
	KeyID     string
	CreatedAt time.Time
	Checksum  string
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func keyID(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])[:16]
}

// polynomialEval evaluates the splitting polynomial at x mod prime, per the
// original's _polynomial_eval.
func polynomialEval(coefficients []*big.Int, x int64) *big.Int {
	result := big.NewInt(0)
	xBig := big.NewInt(x)
	power := big.NewInt(1)
	for _, coef := range coefficients {
		term := new(big.Int).Mul(coef, power)
		result.Add(result, term)
		result.Mod(result, prime)
		power.Mul(power, xBig)
		power.Mod(power, prime)
	}
	return result
}

// SplitSecret splits secret into numShares shares requiring threshold of
// them to recover, per spec §4.9. Mirrors the original's split_secret,
// including its "secret too large for the prime" guard.
func SplitSecret(secret []byte, threshold, numShares int) ([]Share, error) {
	if threshold > numShares {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "keyrecovery.SplitSecret", fmt.Errorf("threshold cannot exceed number of shares"))
	}
	if threshold < 1 {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "keyrecovery.SplitSecret", fmt.Errorf("threshold must be at least 1"))
	}

	secretInt := new(big.Int).SetBytes(secret)
	if secretInt.Cmp(prime) >= 0 {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "keyrecovery.SplitSecret", fmt.Errorf("secret too large for current prime"))
	}

	coefficients := make([]*big.Int, threshold)
	coefficients[0] = secretInt
	for i := 1; i < threshold; i++ {
		c, err := rand.Int(rand.Reader, prime)
		if err != nil {
			return nil, apperrors.New(apperrors.KindUnknown, "keyrecovery.SplitSecret", err)
		}
		coefficients[i] = c
	}

	id := keyID(secret)
	now := time.Now()
	shares := make([]Share, numShares)
	for i := 1; i <= numShares; i++ {
		value := polynomialEval(coefficients, int64(i))
		data := value.Bytes()
		shares[i-1] = Share{
			Index:     i,
			Data:      data,
			Threshold: threshold,
			Total:     numShares,
			KeyID:     id,
			CreatedAt: now,
			Checksum:  checksum(data),
		}
	}
	return shares, nil
}

// modInverse computes the modular inverse of a mod prime via big.Int's
// built-in extended-Euclidean ModInverse, matching the original's
// hand-rolled extended_gcd.
func modInverse(a *big.Int) (*big.Int, error) {
	a = new(big.Int).Mod(a, prime)
	inv := new(big.Int).ModInverse(a, prime)
	if inv == nil {
		return nil, fmt.Errorf("modular inverse does not exist")
	}
	return inv, nil
}

// lagrangeInterpolation recovers f(0) from threshold points, per the
// original's _lagrange_interpolation.
func lagrangeInterpolation(points map[int64]*big.Int) (*big.Int, error) {
	result := big.NewInt(0)
	for xi, yi := range points {
		basis := new(big.Int).Set(yi)
		for xj := range points {
			if xi == xj {
				continue
			}
			numerator := new(big.Int).Neg(big.NewInt(xj))
			numerator.Mod(numerator, prime)
			denominator := new(big.Int).Sub(big.NewInt(xi), big.NewInt(xj))
			denominator.Mod(denominator, prime)
			inv, err := modInverse(denominator)
			if err != nil {
				return nil, err
			}
			basis.Mul(basis, numerator)
			basis.Mod(basis, prime)
			basis.Mul(basis, inv)
			basis.Mod(basis, prime)
		}
		result.Add(result, basis)
		result.Mod(result, prime)
	}
	return result, nil
}

// RecoverSecret reconstructs the original secret from at least threshold
// shares, per spec §4.9: verifies checksum, key-id, and threshold
// consistency before interpolating.
func RecoverSecret(shares []Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "keyrecovery.RecoverSecret", fmt.Errorf("no shares provided"))
	}
	threshold := shares[0].Threshold
	if len(shares) < threshold {
		return nil, apperrors.New(apperrors.KindRecoveryFailed, "keyrecovery.RecoverSecret", fmt.Errorf("need at least %d shares, got %d", threshold, len(shares)))
	}
	id := shares[0].KeyID
	for _, s := range shares {
		if s.KeyID != id {
			return nil, apperrors.New(apperrors.KindInvalidConfig, "keyrecovery.RecoverSecret", fmt.Errorf("shares belong to different secrets"))
		}
		if s.Threshold != threshold {
			return nil, apperrors.New(apperrors.KindInvalidConfig, "keyrecovery.RecoverSecret", fmt.Errorf("inconsistent threshold values"))
		}
		if checksum(s.Data) != s.Checksum {
			return nil, apperrors.New(apperrors.KindIntegrityViolation, "keyrecovery.RecoverSecret", fmt.Errorf("share %d checksum verification failed", s.Index))
		}
	}

	points := make(map[int64]*big.Int, threshold)
	for _, s := range shares[:threshold] {
		points[int64(s.Index)] = new(big.Int).SetBytes(s.Data)
	}
	secretInt, err := lagrangeInterpolation(points)
	if err != nil {
		return nil, apperrors.New(apperrors.KindRecoveryFailed, "keyrecovery.RecoverSecret", err)
	}
	return secretInt.Bytes(), nil
}
