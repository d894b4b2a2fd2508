package mpc

import (
	"math/big"

	cmt "github.com/binance-chain/tss-lib/crypto/commitments"
)

// commitTwoValues hash-commits a pair of values, returning only the
// commitment (the decommitment is reconstructed by the caller holding both
// values, so it never needs to be threaded through separately).
func commitTwoValues(a, b *big.Int) *big.Int {
	cd := cmt.NewHashCommitment(a, b)
	return cd.C
}
