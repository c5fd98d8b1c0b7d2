package hostctx

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/fuxiaohei/lol-serverless/errors"
)

const cryptoNamespace = "land:crypto/crypto@0.1.0"

// CryptoHost implements the guest sha/hmac ABI (spec.md §4.5), grounded on
// original_source/crates/sdk/src/crypto/{sha,hmac}.rs's algorithm set.
// Stdlib crypto/* covers every algorithm the original uses — no pack
// dependency offers sha1/sha2/hmac beyond what crypto/* already provides
// (see DESIGN.md).
type CryptoHost struct{}

func (h *CryptoHost) Namespace() string { return cryptoNamespace }

func newHasher(alg string) (func() hash.Hash, error) {
	switch alg {
	case "sha-1":
		return sha1.New, nil
	case "sha-256":
		return sha256.New, nil
	case "sha-384":
		return sha512.New384, nil
	case "sha-512":
		return sha512.New, nil
	default:
		return nil, errors.InvalidAlgorithm(alg)
	}
}

// ShaDigest computes a digest over data with the named algorithm.
func (h *CryptoHost) ShaDigest(_ context.Context, algorithm string, data []byte) ([]byte, error) {
	newFn, err := newHasher(algorithm)
	if err != nil {
		return nil, err
	}
	hasher := newFn()
	hasher.Write(data)
	return hasher.Sum(nil), nil
}

// HmacSign signs data with secret under the named hash.
func (h *CryptoHost) HmacSign(_ context.Context, hash_ string, secret []byte, data []byte) ([]byte, error) {
	newFn, err := newHasher(hash_)
	if err != nil {
		return nil, errors.InvalidHash(hash_)
	}
	if len(secret) == 0 {
		return nil, errors.InvalidKey()
	}
	mac := hmac.New(newFn, secret)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// HmacVerify reports whether signature matches data signed with secret
// under the named hash.
func (h *CryptoHost) HmacVerify(_ context.Context, hash_ string, secret []byte, data []byte, signature []byte) (bool, error) {
	expected, err := h.HmacSign(context.Background(), hash_, secret, data)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, signature), nil
}
