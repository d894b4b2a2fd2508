package mpc

import (
	"math/big"

	cmt "github.com/binance-chain/tss-lib/crypto/commitments"
	"github.com/binance-chain/tss-lib/crypto/paillier"
)

// KeyGenFirstMsg is party-one's first keygen message: a commitment to its
// ephemeral public share and to the dlog proof it will open in round two.
type KeyGenFirstMsg struct {
	PkCommitment    cmt.HashCommitment `json:"pk_commitment"`
	ZkPokCommitment cmt.HashCommitment `json:"zk_pok_commitment"`
}

// CommWitness carries the randomness needed to open KeyGenFirstMsg's two
// commitments, plus the public share and dlog proof they commit to.
type CommWitness struct {
	PkCommitment    cmt.HashCommitment     `json:"pk_commitment"`
	ZkPokCommitment cmt.HashCommitment     `json:"zk_pok_commitment"`
	PublicShare     *Point                 `json:"public_share"`
	DLogProof       *DLogProof             `json:"d_log_proof"`
	CDecommit       cmt.HashDeCommitment   `json:"c_decommit"`
	ZkDecommit      cmt.HashDeCommitment   `json:"zk_decommit"`
}

// EcKeyPair is an ephemeral (secret share, public share) pair generated
// during a keygen, chaincode or sign round.
type EcKeyPair struct {
	SecretShare *big.Int `json:"secret_share"`
	PublicShare *Point   `json:"public_share"`
}

// PaillierKeyPair is party-one's Paillier keypair plus the encryption of
// its own secret share under its own public key (ek_prime in the original
// source), used later by the homomorphic signing computation.
type PaillierKeyPair struct {
	PrivateKey     *paillier.PrivateKey `json:"private_key"`
	PublicKey      *paillier.PublicKey  `json:"public_key"`
	EncryptedShare *big.Int             `json:"encrypted_share"`
	Randomness     *big.Int             `json:"randomness"`
}

// Party1Private is party-one's long-lived private material for a session:
// its secret share and the Paillier key that encrypts it.
type Party1Private struct {
	X1           *big.Int             `json:"x1"`
	PaillierPriv *paillier.PrivateKey `json:"paillier_priv"`
	CKey         *big.Int             `json:"c_key"`
}

// Party2Public is party-two's public key share, learned from its dlog proof.
type Party2Public struct {
	Point *Point `json:"point"`
}

// DLogProof is a Schnorr proof of knowledge of the discrete log of Pk
// relative to the curve's base point.
type DLogProof struct {
	Pk        *Point   `json:"pk"`
	Commitment *Point  `json:"pk_t_rand_commitment"`
	Challenge *big.Int `json:"challenge_response"`
}

// Party2PDLFirstMsg is party-two's first PDL message, received as input to
// keygen-third.
type Party2PDLFirstMsg struct {
	C *big.Int `json:"c"`
}

// Party1PDLFirstMsg is party-one's PDL response, returned from keygen-third.
type Party1PDLFirstMsg struct {
	C *big.Int `json:"c"`
}

// PDLDecommit carries the data party-one reveals in keygen-fourth to let
// party-two verify the PDL proof.
type PDLDecommit struct {
	Q           *Point   `json:"q"`
	BlindFactor *big.Int `json:"blind_factor"`
}

// Alpha is the blinded-share value party-one derives in keygen-third and
// checks against party-two's PDL second message in keygen-fourth.
type Alpha struct {
	Value *big.Int `json:"value"`
}

// Party2PDLSecondMsg is party-two's PDL second message, input to keygen-fourth.
type Party2PDLSecondMsg struct {
	X2    *big.Int `json:"x2"`
	Blind *big.Int `json:"blind"`
}

// Party1PDLSecondMsg is party-one's PDL verification result, output of
// keygen-fourth.
type Party1PDLSecondMsg struct {
	Verified bool `json:"verified"`
}

// CC is the BIP32-style chain code computed at the end of keygen.
type CC struct {
	ChainCode []byte `json:"chain_code"`
}

// MasterKey1 is party-one's finished long-lived share of the jointly
// generated key: public key, chain code, secret share and Paillier key.
type MasterKey1 struct {
	PublicKey       *Point               `json:"public_key"`
	ChainCode       []byte               `json:"chain_code"`
	X1              *big.Int             `json:"x1"`
	PaillierPriv    *paillier.PrivateKey `json:"paillier_priv"`
	EncryptedShare  *big.Int             `json:"encrypted_share"`
	Party2PublicKey *Point               `json:"party2_public_key"`
}

// EphEcKeyPair is the ephemeral keypair generated at sign-first.
type EphEcKeyPair struct {
	SecretShare *big.Int `json:"secret_share"`
	PublicShare *Point   `json:"public_share"`
}

// EphKeyGenFirstMsg is the commitment party-one sends at sign-first.
type EphKeyGenFirstMsg struct {
	PkCommitment    cmt.HashCommitment `json:"pk_commitment"`
	ZkPokCommitment cmt.HashCommitment `json:"zk_pok_commitment"`
}

// Party2EphKeyGenFirst is party-two's ephemeral keygen first message,
// input to sign-first.
type Party2EphKeyGenFirst struct {
	DLogProof *DLogProof `json:"d_log_proof"`
}

// Party2SignSecondMessage is party-two's homomorphically-computed partial
// signature input to sign-second.
type Party2SignSecondMessage struct {
	PartialSig *big.Int `json:"partial_sig"`
	Message    *big.Int `json:"message"`
	K2Pk       *Point   `json:"k2_pk"`
}

// SignatureRecid is the final (r, s, recovery id) ECDSA signature.
type SignatureRecid struct {
	R     *big.Int `json:"r"`
	S     *big.Int `json:"s"`
	Recid int      `json:"recid"`
}

// POS is reserved for a future BIP32 account position; always {pos:0} at
// session creation.
type POS struct {
	Pos int `json:"pos"`
}

// Abort records whether a session has been tainted by a failed sign-second.
type Abort struct {
	Blocked bool `json:"blocked"`
}

// RotateCommitMessage1 bundles the coin-flip commitment and the witness
// needed to later decommit it, resolved (per the spec's authoritative
// variant) as a single struct rather than two separate slots.
type RotateCommitMessage1 struct {
	Commitment cmt.HashCommitment   `json:"commitment"`
	Witness    cmt.HashDeCommitment `json:"witness"`
	Seed       *big.Int             `json:"seed"`
}

// RotateRandom1 is the flipped randomness r1 used to derive the rotation factor.
type RotateRandom1 struct {
	Value *big.Int `json:"value"`
}

// RotateFirstMsg carries the fresh keypair material for the rotated share.
type RotateFirstMsg struct {
	EcKeyPairNew      *EcKeyPair       `json:"ec_key_pair_new"`
	PaillierKeyPairNew *PaillierKeyPair `json:"paillier_key_pair_new"`
}

// RotatePrivateNew is the rotated private material, persisted only after
// the full rotate round chain succeeds.
type RotatePrivateNew struct {
	X1New        *big.Int             `json:"x1_new"`
	PaillierPriv *paillier.PrivateKey `json:"paillier_priv"`
}

// RotatePdlDecom mirrors PDLDecommit for the rotation's PDL exchange.
type RotatePdlDecom struct {
	Q           *Point   `json:"q"`
	BlindFactor *big.Int `json:"blind_factor"`
}

// RotateParty2First mirrors Party2PDLFirstMsg for the rotation's PDL exchange.
type RotateParty2First struct {
	C *big.Int `json:"c"`
}

// RotateParty1Second mirrors Party1PDLFirstMsg (party-one's response) for rotation.
type RotateParty1Second struct {
	C *big.Int `json:"c"`
}

// RotateAlpha mirrors Alpha for the rotation's PDL exchange.
type RotateAlpha struct {
	Value *big.Int `json:"value"`
}

// CCKeyGenFirstMsg, CCCommWitness, CCEcKeyPair mirror the keygen equivalents
// for the chain-code sub-protocol.
type CCKeyGenFirstMsg struct {
	PkCommitment    cmt.HashCommitment `json:"pk_commitment"`
	ZkPokCommitment cmt.HashCommitment `json:"zk_pok_commitment"`
}

type CCCommWitness struct {
	PkCommitment    cmt.HashCommitment   `json:"pk_commitment"`
	ZkPokCommitment cmt.HashCommitment   `json:"zk_pok_commitment"`
	PublicShare     *Point               `json:"public_share"`
	DLogProof       *DLogProof           `json:"d_log_proof"`
	CDecommit       cmt.HashDeCommitment `json:"c_decommit"`
	ZkDecommit      cmt.HashDeCommitment `json:"zk_decommit"`
}

type CCEcKeyPair struct {
	SecretShare *big.Int `json:"secret_share"`
	PublicShare *Point   `json:"public_share"`
}
