package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidPrivateKey = errors.New("eth: invalid private key")

// ParsePrivateKeysHexList parses comma or newline separated secp256k1 keys (32 bytes hex,
// optional 0x prefix). The first key becomes the wallet's primary account.
//
// The returned error must not include key material.
func ParsePrivateKeysHexList(s string) ([]*ecdsa.PrivateKey, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	var out []*ecdsa.PrivateKey
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(p, "0x")
		key, err := crypto.HexToECDSA(p)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d", ErrInvalidPrivateKey, i)
		}
		out = append(out, key)
	}
	if len(out) == 0 {
		return nil, ErrInvalidPrivateKey
	}
	return out, nil
}
