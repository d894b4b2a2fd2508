package mpc

import (
	"crypto/sha256"
	"math/big"

	cmt "github.com/binance-chain/tss-lib/crypto/commitments"
)

// ProveDLog produces a Schnorr proof that the prover knows x such that
// pk = x*G, binding the challenge to pk via Fiat-Shamir.
func ProveDLog(x *big.Int) (*DLogProof, error) {
	pk := BasePointMult(x)

	k, err := RandomScalar()
	if err != nil {
		return nil, err
	}
	commitment := BasePointMult(k)

	e := fiatShamirChallenge(pk, commitment)
	// response = k + e*x mod n
	resp := new(big.Int).Mul(e, x)
	resp.Add(resp, k)
	resp.Mod(resp, CurveOrder())

	return &DLogProof{Pk: pk, Commitment: commitment, Challenge: resp}, nil
}

// Verify checks g^response == commitment + e*pk.
func (d *DLogProof) Verify() bool {
	if d == nil || d.Pk == nil || d.Commitment == nil || d.Challenge == nil {
		return false
	}
	e := fiatShamirChallenge(d.Pk, d.Commitment)
	lhs := BasePointMult(d.Challenge)
	rhs := d.Commitment.Add(d.Pk.ScalarMult(e))
	return lhs.Equal(rhs)
}

func fiatShamirChallenge(pk, commitment *Point) *big.Int {
	h := sha256.New()
	h.Write(pk.X.Bytes())
	h.Write(pk.Y.Bytes())
	h.Write(commitment.X.Bytes())
	h.Write(commitment.Y.Bytes())
	e := new(big.Int).SetBytes(h.Sum(nil))
	return e.Mod(e, CurveOrder())
}

// commitToPublicShareAndProof produces the two commitments KeyGenFirstMsg
// carries (to the public share and to the dlog proof) plus the witness
// needed to decommit them later.
func commitToPublicShareAndProof(publicShare *Point, proof *DLogProof) (pkCommit, zkCommit cmt.HashCommitment, pkDecom, zkDecom cmt.HashDeCommitment) {
	pkCD := cmt.NewHashCommitment(publicShare.X, publicShare.Y)
	zkCD := cmt.NewHashCommitment(proof.Commitment.X, proof.Commitment.Y, proof.Challenge)
	return pkCD.C, zkCD.C, pkCD.D, zkCD.D
}
