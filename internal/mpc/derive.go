package mpc

import (
	"crypto/hmac"
	"crypto/sha512"
	"math/big"
)

// GetChild applies one BIP32-derived tweak per entry in positions, returning
// a fresh MasterKey1 that is never persisted (the session's stored
// MasterKey1 is untouched). Because the combined key is the multiplicative
// share product x1*x2, the tweak is applied multiplicatively to party-one's
// share and to the public key: x1' = x1*il, Q' = il*Q, which preserves
// x1'*x2 == il*(x1*x2) without needing to touch party-two's share at all.
func (mk *MasterKey1) GetChild(positions []*big.Int) *MasterKey1 {
	x1 := new(big.Int).Set(mk.X1)
	publicKey := mk.PublicKey
	chainCode := mk.ChainCode
	encryptedShare := mk.EncryptedShare
	n := CurveOrder()

	for _, pos := range positions {
		il, newChainCode := deriveOffset(chainCode, publicKey, pos)
		chainCode = newChainCode

		x1.Mul(x1, il)
		x1.Mod(x1, n)

		publicKey = publicKey.ScalarMult(il)

		if scaled, err := mk.PaillierPriv.PublicKey.HomoMult(il, encryptedShare); err == nil {
			encryptedShare = scaled
		}
	}

	return &MasterKey1{
		PublicKey:       publicKey,
		ChainCode:       chainCode,
		X1:              x1,
		PaillierPriv:    mk.PaillierPriv,
		EncryptedShare:  encryptedShare,
		Party2PublicKey: mk.Party2PublicKey,
	}
}

// deriveOffset computes a BIP32-style (il, chainCode') pair for one
// derivation level: HMAC-SHA512(chainCode, pubkey.X || pubkey.Y || index).
func deriveOffset(chainCode []byte, pubKey *Point, index *big.Int) (*big.Int, []byte) {
	mac := hmac.New(sha512.New, chainCode)
	mac.Write(pubKey.X.Bytes())
	mac.Write(pubKey.Y.Bytes())
	mac.Write(index.Bytes())
	sum := mac.Sum(nil)

	il := new(big.Int).SetBytes(sum[:32])
	il.Mod(il, CurveOrder())
	return il, sum[32:]
}
