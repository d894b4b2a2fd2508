package mpc

import (
	"crypto/sha256"
	"errors"
	"time"

	"github.com/binance-chain/tss-lib/crypto/paillier"
)

const paillierModulusBitLen = 2048

// KeyGenFirstMessage generates party-one's ephemeral keypair and commits
// to its public share and dlog proof.
func KeyGenFirstMessage() (*KeyGenFirstMsg, *CommWitness, *EcKeyPair, error) {
	x1, err := RandomScalar()
	if err != nil {
		return nil, nil, nil, err
	}
	publicShare := BasePointMult(x1)
	proof, err := ProveDLog(x1)
	if err != nil {
		return nil, nil, nil, err
	}

	pkCommit, zkCommit, pkDecom, zkDecom := commitToPublicShareAndProof(publicShare, proof)

	msg := &KeyGenFirstMsg{PkCommitment: pkCommit, ZkPokCommitment: zkCommit}
	witness := &CommWitness{
		PkCommitment:    pkCommit,
		ZkPokCommitment: zkCommit,
		PublicShare:     publicShare,
		DLogProof:       proof,
		CDecommit:       pkDecom,
		ZkDecommit:      zkDecom,
	}
	keyPair := &EcKeyPair{SecretShare: x1, PublicShare: publicShare}

	return msg, witness, keyPair, nil
}

// KeyGenSecondMessage verifies party-two's dlog proof, generates party-one's
// Paillier keypair, and encrypts party-one's own secret share under it.
func KeyGenSecondMessage(witness *CommWitness, keyPair *EcKeyPair, dlogProof *DLogProof) (*Party2Public, *PaillierKeyPair, *Party1Private, error) {
	if !dlogProof.Verify() {
		return nil, nil, nil, errors.New("mpc: party-two dlog proof failed verification")
	}

	priv, pub, err := paillier.GenerateKeyPair(paillierModulusBitLen, time.Minute)
	if err != nil {
		return nil, nil, nil, err
	}

	cKey, err := pub.Encrypt(keyPair.SecretShare)
	if err != nil {
		return nil, nil, nil, err
	}

	party2Public := &Party2Public{Point: dlogProof.Pk}
	paillierPair := &PaillierKeyPair{PrivateKey: priv, PublicKey: pub, EncryptedShare: cKey}
	party1Private := &Party1Private{X1: keyPair.SecretShare, PaillierPriv: priv, CKey: cKey}

	return party2Public, paillierPair, party1Private, nil
}

// KeyGenThirdMessage decrypts party-two's PDL commitment with party-one's
// own Paillier key and commits to the resulting alpha for later opening.
func KeyGenThirdMessage(party2First *Party2PDLFirstMsg, priv *Party1Private) (*Party1PDLFirstMsg, *PDLDecommit, *Alpha, *Party2PDLFirstMsg, error) {
	alphaValue, err := priv.PaillierPriv.Decrypt(party2First.C)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	blind, err := RandomScalar()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	commitment := commitTwoValues(alphaValue, blind)

	firstMsg := &Party1PDLFirstMsg{C: commitment}
	decommit := &PDLDecommit{Q: BasePointMult(priv.X1), BlindFactor: blind}
	alpha := &Alpha{Value: alphaValue}

	return firstMsg, decommit, alpha, party2First, nil
}

// KeyGenFourthMessage verifies party-two's revealed share against both the
// alpha committed in round three and the public key learned in round two.
// A failure here is fatal to the session: it does not taint, per the
// "keygen-fourth failures are not adversarial, they are session-fatal" rule.
func KeyGenFourthMessage(party2Public *Party2Public, second *Party2PDLSecondMsg, alpha *Alpha, decommit *PDLDecommit) (*Party1PDLSecondMsg, error) {
	if alpha.Value.Cmp(second.X2) != 0 {
		return nil, errors.New("mpc: PDL verification failed: alpha does not match revealed share")
	}
	if !BasePointMult(second.X2).Equal(party2Public.Point) {
		return nil, errors.New("mpc: PDL verification failed: revealed share does not match public key")
	}
	_ = decommit
	return &Party1PDLSecondMsg{Verified: true}, nil
}

// ChainCodeFirstMessage generates the ephemeral keypair used for the
// chain-code sub-protocol, structurally identical to KeyGenFirstMessage.
func ChainCodeFirstMessage() (*CCKeyGenFirstMsg, *CCCommWitness, *CCEcKeyPair, error) {
	msg, witness, keyPair, err := KeyGenFirstMessage()
	if err != nil {
		return nil, nil, nil, err
	}
	return &CCKeyGenFirstMsg{PkCommitment: msg.PkCommitment, ZkPokCommitment: msg.ZkPokCommitment},
		&CCCommWitness{
			PkCommitment:    witness.PkCommitment,
			ZkPokCommitment: witness.ZkPokCommitment,
			PublicShare:     witness.PublicShare,
			DLogProof:       witness.DLogProof,
			CDecommit:       witness.CDecommit,
			ZkDecommit:      witness.ZkDecommit,
		},
		&CCEcKeyPair{SecretShare: keyPair.SecretShare, PublicShare: keyPair.PublicShare},
		nil
}

// ChainCodeSecondMessage verifies party-two's dlog proof for the chain-code
// sub-protocol; the chain code itself is produced by ComputeChainCode.
func ChainCodeSecondMessage(witness *CCCommWitness, party2DLogProof *DLogProof) error {
	if !party2DLogProof.Verify() {
		return errors.New("mpc: party-two chain-code dlog proof failed verification")
	}
	return nil
}

// ComputeChainCode derives the shared BIP32 chain code from an ECDH-style
// combination of party-one's chain-code keypair and party-two's public share.
func ComputeChainCode(keyPair *CCEcKeyPair, party2Public *Point) []byte {
	shared := party2Public.ScalarMult(keyPair.SecretShare)
	h := sha256.Sum256(append(shared.X.Bytes(), shared.Y.Bytes()...))
	return h[:]
}

// SetMasterKey combines party-one's private share, the jointly computed
// chain code, and party-two's public share into the finished MasterKey1.
// The combined public key is Q = x1*x2*G: the two shares combine
// multiplicatively (Lindell-style), computed here as party-two's public
// point scaled by party-one's own secret share, never requiring x2 itself.
func SetMasterKey(chainCode []byte, priv *Party1Private, publicShare *Point, party2Public *Point, paillierPair *PaillierKeyPair) *MasterKey1 {
	combinedPublicKey := party2Public.ScalarMult(priv.X1)
	return &MasterKey1{
		PublicKey:       combinedPublicKey,
		ChainCode:       chainCode,
		X1:              priv.X1,
		PaillierPriv:    priv.PaillierPriv,
		EncryptedShare:  paillierPair.EncryptedShare,
		Party2PublicKey: party2Public,
	}
}
