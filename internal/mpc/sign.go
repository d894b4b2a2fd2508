package mpc

import (
	"errors"
	"math/big"
)

// EphKeyGenFirstMessage generates the ephemeral nonce keypair used by a
// single sign round and commits to its public share.
func EphKeyGenFirstMessage() (*EphKeyGenFirstMsg, *EphEcKeyPair, error) {
	k1, err := RandomScalar()
	if err != nil {
		return nil, nil, err
	}
	r1 := BasePointMult(k1)
	proof, err := ProveDLog(k1)
	if err != nil {
		return nil, nil, err
	}
	pkCommit, zkCommit, _, _ := commitToPublicShareAndProof(r1, proof)

	return &EphKeyGenFirstMsg{PkCommitment: pkCommit, ZkPokCommitment: zkCommit},
		&EphEcKeyPair{SecretShare: k1, PublicShare: r1}, nil
}

// SignSecondMessage combines party-one's ephemeral share with party-two's
// homomorphically-computed partial signature into the final (r, s, recid),
// then verifies it against the (possibly derived) master public key. A
// verification failure here is the one adversarial signal the protocol
// recognizes; the caller is responsible for tainting the session on error.
func SignSecondMessage(masterKey *MasterKey1, ephKeyPair *EphEcKeyPair, party2Msg *Party2SignSecondMessage, message *big.Int) (*SignatureRecid, error) {
	if party2Msg.K2Pk == nil {
		return nil, errors.New("mpc: party-two sign message missing ephemeral public share")
	}

	combinedR := party2Msg.K2Pk.ScalarMult(ephKeyPair.SecretShare)
	n := CurveOrder()
	r := new(big.Int).Mod(combinedR.X, n)
	if r.Sign() == 0 {
		return nil, errors.New("mpc: sign-second failed: degenerate r")
	}

	sTag, err := masterKey.PaillierPriv.Decrypt(party2Msg.PartialSig)
	if err != nil {
		return nil, errors.New("mpc: sign-second failed: unable to decrypt partial signature")
	}

	kInv := new(big.Int).ModInverse(ephKeyPair.SecretShare, n)
	if kInv == nil {
		return nil, errors.New("mpc: sign-second failed: non-invertible ephemeral share")
	}
	s := new(big.Int).Mul(sTag, kInv)
	s.Mod(s, n)

	recid := 0
	if combinedR.Y.Bit(0) == 1 {
		recid = 1
	}

	half := new(big.Int).Rsh(n, 1)
	if s.Cmp(half) == 1 {
		s.Sub(n, s)
		recid ^= 1
	}

	if !verifyECDSA(masterKey.PublicKey, message, r, s) {
		return nil, errors.New("mpc: sign-second failed: signature does not verify against master public key")
	}

	return &SignatureRecid{R: r, S: s, Recid: recid}, nil
}

// verifyECDSA checks the standard ECDSA verification equation
// u1*G + u2*Q has x-coordinate r (mod n), where u1 = m*s^-1, u2 = r*s^-1.
func verifyECDSA(q *Point, message, r, s *big.Int) bool {
	n := CurveOrder()
	if r.Sign() <= 0 || s.Sign() <= 0 || r.Cmp(n) >= 0 || s.Cmp(n) >= 0 {
		return false
	}
	sInv := new(big.Int).ModInverse(s, n)
	if sInv == nil {
		return false
	}
	u1 := new(big.Int).Mul(message, sInv)
	u1.Mod(u1, n)
	u2 := new(big.Int).Mul(r, sInv)
	u2.Mod(u2, n)

	p1 := BasePointMult(u1)
	p2 := q.ScalarMult(u2)
	sum := p1.Add(p2)

	x := new(big.Int).Mod(sum.X, n)
	return x.Cmp(r) == 0
}
