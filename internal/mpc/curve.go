// Package mpc is the opaque two-party-ECDSA primitives facade: KeyGen,
// Sign, Rotate and Derivation round bodies call into it and nowhere else
// touches Paillier ciphertexts, commitment witnesses or curve points
// directly. The cryptographic correctness of the primitives is explicitly
// out of scope (the protocol state machines only need one output and
// potentially one new secret per call); this package builds real Paillier
// encryption (github.com/binance-chain/tss-lib/crypto/paillier), real
// hash commitments (.../crypto/commitments) and real secp256k1 point
// arithmetic (github.com/decred/dcrd/dcrec/secp256k1/v4) into a protocol
// shaped the way original_source's curv/paillier-based Rust primitives are
// sequenced.
package mpc

import (
	"crypto/rand"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Point is a secp256k1 curve point in affine coordinates, serializable as
// plain big.Ints so it can travel as JSON in artifact payloads.
type Point struct {
	X *big.Int `json:"x"`
	Y *big.Int `json:"y"`
}

// CurveOrder returns secp256k1's group order n.
func CurveOrder() *big.Int {
	return new(big.Int).Set(secp256k1.S256().N)
}

func modNScalar(v *big.Int) *secp256k1.ModNScalar {
	var s secp256k1.ModNScalar
	reduced := new(big.Int).Mod(v, CurveOrder())
	b := reduced.Bytes()
	var buf [32]byte
	copy(buf[32-len(b):], b)
	s.SetBytes(&buf)
	return &s
}

// RandomScalar returns a uniformly random value in [1, n).
func RandomScalar() (*big.Int, error) {
	n := CurveOrder()
	for {
		k, err := rand.Int(rand.Reader, n)
		if err != nil {
			return nil, err
		}
		if k.Sign() != 0 {
			return k, nil
		}
	}
}

// BasePointMult computes scalar*G.
func BasePointMult(scalar *big.Int) *Point {
	var result secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(modNScalar(scalar), &result)
	result.ToAffine()
	return &Point{X: new(big.Int).SetBytes(result.X.Bytes()[:]), Y: new(big.Int).SetBytes(result.Y.Bytes()[:])}
}

func (p *Point) toJacobian() *secp256k1.JacobianPoint {
	var fx, fy secp256k1.FieldVal
	fx.SetByteSlice(p.X.Bytes())
	fy.SetByteSlice(p.Y.Bytes())
	return &secp256k1.JacobianPoint{X: fx, Y: fy, Z: *new(secp256k1.FieldVal).SetInt(1)}
}

// Add returns p + q on the curve.
func (p *Point) Add(q *Point) *Point {
	var result secp256k1.JacobianPoint
	secp256k1.AddNonConst(p.toJacobian(), q.toJacobian(), &result)
	result.ToAffine()
	return &Point{X: new(big.Int).SetBytes(result.X.Bytes()[:]), Y: new(big.Int).SetBytes(result.Y.Bytes()[:])}
}

// ScalarMult returns scalar*p.
func (p *Point) ScalarMult(scalar *big.Int) *Point {
	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(modNScalar(scalar), p.toJacobian(), &result)
	result.ToAffine()
	return &Point{X: new(big.Int).SetBytes(result.X.Bytes()[:]), Y: new(big.Int).SetBytes(result.Y.Bytes()[:])}
}

// Equal reports whether two points have the same coordinates.
func (p *Point) Equal(q *Point) bool {
	if p == nil || q == nil {
		return p == q
	}
	return p.X.Cmp(q.X) == 0 && p.Y.Cmp(q.Y) == 0
}
