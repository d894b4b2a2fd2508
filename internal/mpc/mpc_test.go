package mpc

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// fullKeyGen runs both parties' half of the protocol inline so package
// tests can exercise party-one's real code paths against a self-consistent
// counterpart, without a network or a second process.
func fullKeyGen(t *testing.T) (*MasterKey1, *big.Int, *Point) {
	t.Helper()

	_, witness, ecKeyPair, err := KeyGenFirstMessage()
	require.NoError(t, err)

	x2, err := RandomScalar()
	require.NoError(t, err)
	party2Proof, err := ProveDLog(x2)
	require.NoError(t, err)

	party2Public, paillierPair, party1Private, err := KeyGenSecondMessage(witness, ecKeyPair, party2Proof)
	require.NoError(t, err)
	require.Equal(t, party2Proof.Pk, party2Public.Point)

	party2CKey, err := paillierPair.PublicKey.Encrypt(x2)
	require.NoError(t, err)

	_, pdlDecom, alpha, _, err := KeyGenThirdMessage(&Party2PDLFirstMsg{C: party2CKey}, party1Private)
	require.NoError(t, err)
	require.Equal(t, 0, alpha.Value.Cmp(x2))

	result, err := KeyGenFourthMessage(party2Public, &Party2PDLSecondMsg{X2: x2}, alpha, pdlDecom)
	require.NoError(t, err)
	require.True(t, result.Verified)

	ccMsg, ccWitness, ccKeyPair, err := ChainCodeFirstMessage()
	require.NoError(t, err)
	_ = ccMsg

	ccX2, err := RandomScalar()
	require.NoError(t, err)
	ccParty2Proof, err := ProveDLog(ccX2)
	require.NoError(t, err)

	require.NoError(t, ChainCodeSecondMessage(ccWitness, ccParty2Proof))
	chainCode := ComputeChainCode(ccKeyPair, ccParty2Proof.Pk)

	masterKey := SetMasterKey(chainCode, party1Private, witness.PublicShare, party2Public.Point, paillierPair)
	return masterKey, x2, party2Proof.Pk
}

// privateScalar reconstructs the combined private key x1*x2 mod n that a
// test needs in order to compute a real partial signature for party-two's
// side, which production code never does (party-one never learns x2).
func privateScalar(x1, x2 *big.Int) *big.Int {
	x := new(big.Int).Mul(x1, x2)
	return x.Mod(x, CurveOrder())
}

func TestKeyGenRoundTrip(t *testing.T) {
	masterKey, x2, x2Pub := fullKeyGen(t)

	require.NotNil(t, masterKey.PublicKey)
	expectedPub := x2Pub.ScalarMult(masterKey.X1)
	require.True(t, masterKey.PublicKey.Equal(expectedPub))
	require.True(t, masterKey.PublicKey.Equal(BasePointMult(privateScalar(masterKey.X1, x2))))
	require.Len(t, masterKey.ChainCode, 32)
}

func TestSignSecondMessageRoundTrip(t *testing.T) {
	masterKey, x2, _ := fullKeyGen(t)

	_, ephKeyPair, err := EphKeyGenFirstMessage()
	require.NoError(t, err)

	k2, err := RandomScalar()
	require.NoError(t, err)
	r2 := BasePointMult(k2)

	message := new(big.Int).SetBytes([]byte("hello gotham"))

	combinedR := r2.ScalarMult(ephKeyPair.SecretShare)
	n := CurveOrder()
	r := new(big.Int).Mod(combinedR.X, n)

	k2Inv := new(big.Int).ModInverse(k2, n)
	require.NotNil(t, k2Inv)

	x := privateScalar(masterKey.X1, x2)

	sTag := new(big.Int).Mul(r, x)
	sTag.Add(sTag, message)
	sTag.Mul(sTag, k2Inv)
	sTag.Mod(sTag, n)

	partialSig, err := masterKey.PaillierPriv.PublicKey.Encrypt(sTag)
	require.NoError(t, err)

	sig, err := SignSecondMessage(masterKey, ephKeyPair, &Party2SignSecondMessage{
		PartialSig: partialSig,
		Message:    message,
		K2Pk:       r2,
	}, message)
	require.NoError(t, err)
	require.Equal(t, 0, sig.R.Cmp(r))
}

func TestSignSecondMessageRejectsForgedPartialSig(t *testing.T) {
	masterKey, _, _ := fullKeyGen(t)

	_, ephKeyPair, err := EphKeyGenFirstMessage()
	require.NoError(t, err)

	k2, err := RandomScalar()
	require.NoError(t, err)
	r2 := BasePointMult(k2)

	message := new(big.Int).SetBytes([]byte("hello gotham"))

	forged, err := masterKey.PaillierPriv.PublicKey.Encrypt(big.NewInt(1))
	require.NoError(t, err)

	_, err = SignSecondMessage(masterKey, ephKeyPair, &Party2SignSecondMessage{
		PartialSig: forged,
		Message:    message,
		K2Pk:       r2,
	}, message)
	require.Error(t, err)
}

func TestGetChildChangesShareButMatchesTweakedPublicKey(t *testing.T) {
	masterKey, x2, x2Pub := fullKeyGen(t)

	child := masterKey.GetChild([]*big.Int{big.NewInt(0)})
	require.NotEqual(t, masterKey.X1, child.X1)
	require.True(t, child.Party2PublicKey.Equal(x2Pub))
	require.True(t, child.PublicKey.Equal(x2Pub.ScalarMult(child.X1)))
	require.True(t, child.PublicKey.Equal(BasePointMult(privateScalar(child.X1, x2))))
}

func TestRotateRoundTripChangesShareKeepsPublicKeyGivenMatchingParty2Rotation(t *testing.T) {
	masterKey, x2, _ := fullKeyGen(t)

	commitMsg1, err := RotateFirst()
	require.NoError(t, err)

	party2Seed, err := RandomScalar()
	require.NoError(t, err)

	_, firstMsg, privateNew, random1, ok, err := RotateSecond(commitMsg1, &CoinFlipParty2First{Seed: party2Seed}, masterKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, masterKey.X1, privateNew.X1New)

	n := CurveOrder()
	rInv := new(big.Int).ModInverse(random1.Value, n)
	require.NotNil(t, rInv)
	x2New := new(big.Int).Mul(x2, rInv)
	x2New.Mod(x2New, n)

	party2CKeyNew, err := firstMsg.PaillierKeyPairNew.PublicKey.Encrypt(x2New)
	require.NoError(t, err)

	_, _, alpha, _, err := RotateThird(&RotateParty2First{C: party2CKeyNew}, privateNew)
	require.NoError(t, err)

	result, newMaster, err := RotateFourth(&Party2PDLSecondMsg{X2: x2New}, alpha, privateNew, firstMsg.PaillierKeyPairNew, masterKey.ChainCode)
	require.NoError(t, err)
	require.True(t, result.Verified)

	require.NotEqual(t, masterKey.X1, newMaster.X1)
	require.True(t, newMaster.PublicKey.Equal(masterKey.PublicKey))
}

func TestCheckRotatedKeyBoundsRejectsZeroFactor(t *testing.T) {
	require.False(t, CheckRotatedKeyBounds(big.NewInt(5), big.NewInt(0)))
	require.True(t, CheckRotatedKeyBounds(big.NewInt(5), big.NewInt(7)))
}
