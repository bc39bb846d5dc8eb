package eth

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSigner = errors.New("eth: invalid signer")

// Signer signs EVM transactions for a single account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	var addr common.Address
	if key != nil {
		addr = crypto.PubkeyToAddress(key.PublicKey)
	}
	return &LocalSigner{key: key, addr: addr}
}

// LocalSigners wraps each key in a LocalSigner, preserving order.
func LocalSigners(keys []*ecdsa.PrivateKey) []Signer {
	out := make([]Signer, 0, len(keys))
	for _, k := range keys {
		out = append(out, NewLocalSigner(k))
	}
	return out
}

func (s *LocalSigner) Address() common.Address { return s.addr }

func (s *LocalSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.key == nil || tx == nil || chainID == nil || chainID.Sign() <= 0 {
		return nil, ErrInvalidSigner
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
