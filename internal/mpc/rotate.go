package mpc

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"time"

	cmt "github.com/binance-chain/tss-lib/crypto/commitments"
	"github.com/binance-chain/tss-lib/crypto/paillier"
)

// CoinFlipParty2First is party-two's seed reveal, input to RotateSecond.
// It is not itself a persisted artifact; RotateRandom1 is the persisted
// result of combining it with party-one's own seed.
type CoinFlipParty2First struct {
	Seed *big.Int `json:"seed"`
}

// CoinFlipParty1Second is party-one's seed decommitment, returned (not
// persisted) alongside RotateFirstMsg from RotateSecond.
type CoinFlipParty1Second struct {
	Randomness *big.Int `json:"randomness"`
}

// RotateFirst produces party-one's coin-flip commitment: a fresh random
// seed, committed so party-two cannot bias the combined rotation factor.
func RotateFirst() (*RotateCommitMessage1, error) {
	seed, err := RandomScalar()
	if err != nil {
		return nil, err
	}
	commitDecommit := cmt.NewHashCommitment(seed)
	return &RotateCommitMessage1{
		Commitment: commitDecommit.C,
		Witness:    commitDecommit.D,
		Seed:       seed,
	}, nil
}

// CheckRotatedKeyBounds reports whether a rotation factor is acceptable.
// Shares combine multiplicatively (x1*x2), so the only degenerate case is a
// rotation factor that is zero mod n: it would zero party-one's share
// regardless of x1's value.
func CheckRotatedKeyBounds(x1, rotationFactor *big.Int) bool {
	r := new(big.Int).Mod(rotationFactor, CurveOrder())
	return r.Sign() != 0
}

// RotateSecond combines both parties' coin-flip seeds into the rotation
// factor, bounds-checks it, and on success generates fresh key material for
// the rotated share. A bounds-check failure returns ok=false with no error
// and no persisted state: the caller must respond with a success shape
// carrying no data, per the protocol's "abort, retry" convention.
func RotateSecond(commitMsg1 *RotateCommitMessage1, party2First *CoinFlipParty2First, currentMaster *MasterKey1) (*CoinFlipParty1Second, *RotateFirstMsg, *RotatePrivateNew, *RotateRandom1, bool, error) {
	combined := sha256.Sum256(append(commitMsg1.Seed.Bytes(), party2First.Seed.Bytes()...))
	rotationFactor := new(big.Int).SetBytes(combined[:])
	rotationFactor.Mod(rotationFactor, CurveOrder())

	if !CheckRotatedKeyBounds(currentMaster.X1, rotationFactor) {
		return nil, nil, nil, nil, false, nil
	}

	n := CurveOrder()
	x1New := new(big.Int).Mul(currentMaster.X1, rotationFactor)
	x1New.Mod(x1New, n)

	priv, pub, err := paillier.GenerateKeyPair(paillierModulusBitLen, time.Minute)
	if err != nil {
		return nil, nil, nil, nil, false, err
	}
	cKeyNew, err := pub.Encrypt(x1New)
	if err != nil {
		return nil, nil, nil, nil, false, err
	}

	ecKeyPairNew := &EcKeyPair{SecretShare: x1New, PublicShare: BasePointMult(x1New)}
	paillierKeyPairNew := &PaillierKeyPair{PrivateKey: priv, PublicKey: pub, EncryptedShare: cKeyNew}

	return &CoinFlipParty1Second{Randomness: commitMsg1.Seed},
		&RotateFirstMsg{EcKeyPairNew: ecKeyPairNew, PaillierKeyPairNew: paillierKeyPairNew},
		&RotatePrivateNew{X1New: x1New, PaillierPriv: priv},
		&RotateRandom1{Value: rotationFactor},
		true, nil
}

// RotateThird mirrors KeyGenThirdMessage for the rotated share's PDL exchange.
func RotateThird(party2First *RotateParty2First, privateNew *RotatePrivateNew) (*RotateParty1Second, *RotatePdlDecom, *RotateAlpha, *RotateParty2First, error) {
	alphaValue, err := privateNew.PaillierPriv.Decrypt(party2First.C)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	blind, err := RandomScalar()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	commitment := commitTwoValues(alphaValue, blind)

	firstMsg := &RotateParty1Second{C: commitment}
	decommit := &RotatePdlDecom{Q: BasePointMult(privateNew.X1New), BlindFactor: blind}
	alpha := &RotateAlpha{Value: alphaValue}

	return firstMsg, decommit, alpha, party2First, nil
}

// RotateFourth verifies the rotated alpha against party-two's revealed new
// share and, on success, returns the replacement MasterKey1. The combined
// public key is recomputed as x1New * x2New * G exactly as SetMasterKey
// does at keygen, which is what lets a correctly rotated pair of shares
// reproduce the original public key while changing both secrets.
// Verification failure leaves the existing master key untouched: the
// caller must not persist anything when this returns an error.
func RotateFourth(second *Party2PDLSecondMsg, alpha *RotateAlpha, privateNew *RotatePrivateNew, paillierKeyPairNew *PaillierKeyPair, chainCode []byte) (*Party1PDLSecondMsg, *MasterKey1, error) {
	if alpha.Value.Cmp(second.X2) != 0 {
		return nil, nil, errors.New("rotation failed: PDL alpha mismatch")
	}

	newParty2Public := BasePointMult(second.X2)
	newMaster := &MasterKey1{
		PublicKey:       newParty2Public.ScalarMult(privateNew.X1New),
		ChainCode:       chainCode,
		X1:              privateNew.X1New,
		PaillierPriv:    privateNew.PaillierPriv,
		EncryptedShare:  paillierKeyPairNew.EncryptedShare,
		Party2PublicKey: newParty2Public,
	}
	return &Party1PDLSecondMsg{Verified: true}, newMaster, nil
}
