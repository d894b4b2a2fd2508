// Package tests contains black-box scenario tests that drive party-one's
// HTTP API the way party-two actually would: JSON requests against
// httpapi.Server.Routes, with a simulated party-two built directly on
// internal/mpc so the tests don't need a second process.
package tests

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/binance-chain/tss-lib/crypto/paillier"
	"github.com/stretchr/testify/require"

	"github.com/jaydenbeard/gotham-party-one/internal/authn"
	"github.com/jaydenbeard/gotham-party-one/internal/derive"
	"github.com/jaydenbeard/gotham-party-one/internal/gate"
	"github.com/jaydenbeard/gotham-party-one/internal/httpapi"
	"github.com/jaydenbeard/gotham-party-one/internal/middleware"
	"github.com/jaydenbeard/gotham-party-one/internal/mpc"
	"github.com/jaydenbeard/gotham-party-one/internal/scratch"
	"github.com/jaydenbeard/gotham-party-one/internal/security"
	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

// testHarness bundles the HTTP router with direct access to the underlying
// Session Store. Tests use the store handle only to recover the value a
// real party-two already knows by construction (its own x1*x2 relationship
// via the public key) so they can build a self-consistent partial signature
// without a second process - the same technique internal/mpc's package
// tests use for fullKeyGen.
type testHarness struct {
	router http.Handler
	store  store.Store
}

func newTestServer(t *testing.T) *testHarness {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"), []byte("test-master-secret-32-bytes-ok!"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sc, err := scratch.NewRedisStore("localhost:6379")
	if err != nil {
		t.Skip("skipping: no local Redis for scratch store at localhost:6379: " + err.Error())
	}
	t.Cleanup(func() { _ = sc.Close() })

	g := gate.New(st, sc)
	auditLogger := security.NewAuditLogger(nil)
	t.Cleanup(func() { _ = auditLogger.Shutdown(0) })

	authenticator, err := authn.New("passthrough")
	require.NoError(t, err)

	server := httpapi.NewServer(st, sc, g, auditLogger, authenticator)
	router := server.Routes(middleware.AuthMiddleware(authenticator, nil))
	return &testHarness{router: router, store: st}
}

// doJSON posts/gets against the router and decodes the JSON response body
// with UseNumber so large big.Int fields (which math/big.Int marshals as
// bare JSON numbers, not strings) survive the round trip without losing
// precision to float64.
func doJSON(t *testing.T, router http.Handler, method, path, customerID string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if customerID != "" {
		req.Header.Set("x-customer-id", customerID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		dec := json.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
		dec.UseNumber()
		_ = dec.Decode(&out)
	}
	return rec.Code, out
}

func bigFromJSON(t *testing.T, v any) *big.Int {
	t.Helper()
	num, ok := v.(json.Number)
	require.True(t, ok, "expected a JSON number, got %T: %v", v, v)
	n, ok := new(big.Int).SetString(num.String(), 10)
	require.True(t, ok, "not a valid big.Int literal: %q", num.String())
	return n
}

// runKeyGenToCompletion drives the full six-round keygen flow with a
// simulated party-two and returns the finished session_id plus party-two's
// secret share, which a real party-two already knows and this harness
// tracks the same way.
func runKeyGenToCompletion(t *testing.T, router http.Handler, customerID string) (sessionID string, x2 *big.Int) {
	t.Helper()

	_, resp := doJSON(t, router, http.MethodPost, "/ecdsa/keygen/first", customerID, nil)
	sessionID, ok := resp["session_id"].(string)
	require.True(t, ok, "%v", resp)

	x2, err := mpc.RandomScalar()
	require.NoError(t, err)
	party2Proof, err := mpc.ProveDLog(x2)
	require.NoError(t, err)

	code, secondResp := doJSON(t, router, http.MethodPost, "/ecdsa/keygen_v2/"+sessionID+"/second", customerID, party2Proof)
	require.Equal(t, http.StatusOK, code, "%v", secondResp)
	ekPrimeBytes, err := json.Marshal(secondResp["ek_prime"])
	require.NoError(t, err)
	var ekPrime paillier.PublicKey
	require.NoError(t, json.Unmarshal(ekPrimeBytes, &ekPrime))

	party2CKey, err := ekPrime.Encrypt(x2)
	require.NoError(t, err)

	code, thirdResp := doJSON(t, router, http.MethodPost, "/ecdsa/keygen_v2/"+sessionID+"/third", customerID, mpc.Party2PDLFirstMsg{C: party2CKey})
	require.Equal(t, http.StatusOK, code, "%v", thirdResp)

	code, fourthResp := doJSON(t, router, http.MethodPost, "/ecdsa/keygen_v2/"+sessionID+"/fourth", customerID, mpc.Party2PDLSecondMsg{X2: x2})
	require.Equal(t, http.StatusOK, code, "%v", fourthResp)
	require.Equal(t, true, fourthResp["verified"])

	code, ccFirstResp := doJSON(t, router, http.MethodPost, "/ecdsa/keygen_v2/"+sessionID+"/chaincode/first", customerID, nil)
	require.Equal(t, http.StatusOK, code, "%v", ccFirstResp)

	ccX2, err := mpc.RandomScalar()
	require.NoError(t, err)
	ccParty2Proof, err := mpc.ProveDLog(ccX2)
	require.NoError(t, err)

	code, ccSecondResp := doJSON(t, router, http.MethodPost, "/ecdsa/keygen_v2/"+sessionID+"/chaincode/second", customerID, ccParty2Proof)
	require.Equal(t, http.StatusOK, code, "%v", ccSecondResp)

	return sessionID, x2
}

// TestHealthCheckIsPublic confirms /health needs no x-customer-id header,
// unlike every /ecdsa/... route.
func TestHealthCheckIsPublic(t *testing.T) {
	h := newTestServer(t)
	code, _ := doJSON(t, h.router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)
}

// TestEcdsaRoutesRequireCustomerID confirms every protected route rejects
// a request carrying no x-customer-id header before it ever reaches the
// coordinator lock or the store.
func TestEcdsaRoutesRequireCustomerID(t *testing.T) {
	h := newTestServer(t)
	code, _ := doJSON(t, h.router, http.MethodPost, "/ecdsa/keygen/first", "", nil)
	require.Equal(t, http.StatusBadRequest, code)
}

// TestKeyGenSecondResponseNeverLeaksPaillierPrivateKey guards the
// sanitized-response contract: the raw PaillierKeyPair artifact embeds a
// private key, and the handler must substitute the sanitized
// party1KeyGenMessage2 shape instead.
func TestKeyGenSecondResponseNeverLeaksPaillierPrivateKey(t *testing.T) {
	h := newTestServer(t)
	customerID := "cust-leak-check"

	_, resp := doJSON(t, h.router, http.MethodPost, "/ecdsa/keygen/first", customerID, nil)
	sessionID := resp["session_id"].(string)

	x2, err := mpc.RandomScalar()
	require.NoError(t, err)
	party2Proof, err := mpc.ProveDLog(x2)
	require.NoError(t, err)

	code, secondResp := doJSON(t, h.router, http.MethodPost, "/ecdsa/keygen_v2/"+sessionID+"/second", customerID, party2Proof)
	require.Equal(t, http.StatusOK, code, "%v", secondResp)

	require.Contains(t, secondResp, "ek_prime")
	require.Contains(t, secondResp, "c_key_prime")
	require.NotContains(t, secondResp, "private_key")
	require.Len(t, secondResp, 2, "response must carry only the sanitized fields, got %v", secondResp)
}

// TestKeyGenSecondRejectsUnknownSession checks the precondition error
// shape for a round called against a session_id that never ran keygen-first.
func TestKeyGenSecondRejectsUnknownSession(t *testing.T) {
	h := newTestServer(t)
	customerID := "cust-missing-session"

	x2, err := mpc.RandomScalar()
	require.NoError(t, err)
	party2Proof, err := mpc.ProveDLog(x2)
	require.NoError(t, err)

	code, resp := doJSON(t, h.router, http.MethodPost, "/ecdsa/keygen_v2/does-not-exist/second", customerID, party2Proof)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, resp["error"], "is required")
}

// TestSignRoundTripProducesValidSignature drives keygen to completion,
// then a same-session sign, reconstructing party-two's homomorphic partial
// signature exactly as the real protocol computes it (combinedR from its
// own ephemeral secret and party-one's revealed public share, sTag blinded
// under party-one's Paillier public key).
func TestSignRoundTripProducesValidSignature(t *testing.T) {
	h := newTestServer(t)
	customerID := "cust-sign-1"

	sessionID, x2 := runKeyGenToCompletion(t, h.router, customerID)

	x2Proof, err := mpc.ProveDLog(x2)
	require.NoError(t, err)

	code, firstResp := doJSON(t, h.router, http.MethodPost, "/ecdsa/sign/"+sessionID+"/first", customerID, mpc.Party2EphKeyGenFirst{DLogProof: x2Proof})
	require.Equal(t, http.StatusOK, code, "%v", firstResp)

	// SignSecond always derives through the (x_pos, y_pos) child-key path,
	// even for {0, 0}: each position still feeds one multiplicative BIP32
	// tweak via HMAC, so the signing share is derive.Child's output, not
	// the raw stored MasterKey1.X1.
	positions := []*big.Int{big.NewInt(0), big.NewInt(0)}
	derivedMaster, err := derive.Child(context.Background(), h.store, customerID, sessionID, positions)
	require.NoError(t, err)

	k2, err := mpc.RandomScalar()
	require.NoError(t, err)
	r2 := mpc.BasePointMult(k2)

	message := new(big.Int).SetBytes([]byte("gotham transfer #1"))
	messageHex := hex.EncodeToString(message.Bytes())

	n := mpc.CurveOrder()
	k2Inv := new(big.Int).ModInverse(k2, n)
	require.NotNil(t, k2Inv)

	x := new(big.Int).Mul(derivedMaster.X1, x2)
	x.Mod(x, n)

	// combinedR = r2^k1 requires party-one's ephemeral secret share, which
	// party-two never learns; it instead derives r = combinedR.X the same
	// way production code does, via its own k2 against party-one's
	// ephemeral public share once revealed. Since sign-first here only
	// returns the commitment (the public share is revealed by party-one's
	// own bookkeeping, not the wire response), this harness reconstructs r
	// directly from the Session Store's persisted ephemeral keypair, the
	// one piece of state a real party-two instead receives via the
	// decommit step the spec's v1 surface folds into sign-second.
	var ephKeyPair mpc.EphEcKeyPair
	ok, err := h.store.Get(context.Background(), customerID, sessionID, store.TagEphEcKeyPair, &ephKeyPair)
	require.NoError(t, err)
	require.True(t, ok)

	combinedR := r2.ScalarMult(ephKeyPair.SecretShare)
	r := new(big.Int).Mod(combinedR.X, n)

	sTag := new(big.Int).Mul(r, x)
	sTag.Add(sTag, message)
	sTag.Mul(sTag, k2Inv)
	sTag.Mod(sTag, n)

	partialSig, err := derivedMaster.PaillierPriv.PublicKey.Encrypt(sTag)
	require.NoError(t, err)

	req := map[string]any{
		"message": messageHex,
		"party2_sign_message": mpc.Party2SignSecondMessage{
			PartialSig: partialSig,
			Message:    message,
			K2Pk:       r2,
		},
		"x_pos_child_key": positions[0],
		"y_pos_child_key": positions[1],
	}

	code, resp := doJSON(t, h.router, http.MethodPost, "/ecdsa/sign/"+sessionID+"/second", customerID, req)
	require.Equal(t, http.StatusOK, code, "%v", resp)

	sigR := bigFromJSON(t, resp["r"])
	require.Equal(t, 0, sigR.Cmp(r))
}

// TestSignSecondTaintsSessionOnForgedPartialSig proves the adversarial
// path: a forged partial signature fails verification, the session's
// Abort flag flips, and a subsequent sign-first for the same session is
// denied by the tainted-session gate.
func TestSignSecondTaintsSessionOnForgedPartialSig(t *testing.T) {
	h := newTestServer(t)
	customerID := "cust-taint-1"

	sessionID, x2 := runKeyGenToCompletion(t, h.router, customerID)

	x2Proof, err := mpc.ProveDLog(x2)
	require.NoError(t, err)

	code, _ := doJSON(t, h.router, http.MethodPost, "/ecdsa/sign/"+sessionID+"/first", customerID, mpc.Party2EphKeyGenFirst{DLogProof: x2Proof})
	require.Equal(t, http.StatusOK, code)

	var masterKey mpc.MasterKey1
	ok, err := h.store.Get(context.Background(), customerID, sessionID, store.TagParty1MasterKey, &masterKey)
	require.NoError(t, err)
	require.True(t, ok)

	k2, err := mpc.RandomScalar()
	require.NoError(t, err)
	r2 := mpc.BasePointMult(k2)
	message := new(big.Int).SetBytes([]byte("forged"))
	messageHex := hex.EncodeToString(message.Bytes())

	// An encryption of 1 is never a valid partial signature for this
	// ephemeral keypair: it fails SignSecondMessage's verification, the
	// same failure mpc_test.go's TestSignSecondMessageRejectsForgedPartialSig
	// exercises directly against the mpc package.
	forgedCipher, err := masterKey.PaillierPriv.PublicKey.Encrypt(big.NewInt(1))
	require.NoError(t, err)

	req := map[string]any{
		"message": messageHex,
		"party2_sign_message": mpc.Party2SignSecondMessage{
			PartialSig: forgedCipher,
			Message:    message,
			K2Pk:       r2,
		},
		"x_pos_child_key": big.NewInt(0),
		"y_pos_child_key": big.NewInt(0),
	}

	code, resp := doJSON(t, h.router, http.MethodPost, "/ecdsa/sign/"+sessionID+"/second", customerID, req)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, resp["error"])

	// The session is now tainted: a fresh sign-first must be denied by
	// the gate's not-tainted check, regardless of the request body.
	code, resp2 := doJSON(t, h.router, http.MethodPost, "/ecdsa/sign/"+sessionID+"/first", customerID, mpc.Party2EphKeyGenFirst{DLogProof: x2Proof})
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, resp2["error"], "blocked")
}

// TestRotateSecondHappyPathReturnsSanitizedRotationMsg exercises rotate's
// first two rounds, confirming the response never carries the new
// Paillier private key.
func TestRotateSecondHappyPathReturnsSanitizedRotationMsg(t *testing.T) {
	h := newTestServer(t)
	customerID := "cust-rotate-1"

	sessionID, _ := runKeyGenToCompletion(t, h.router, customerID)

	code, resp := doJSON(t, h.router, http.MethodPost, "/ecdsa/rotate/"+sessionID+"/first", customerID, nil)
	require.Equal(t, http.StatusOK, code, "%v", resp)
	require.NotEmpty(t, resp["commitment"])

	party2Seed, err := mpc.RandomScalar()
	require.NoError(t, err)
	code, resp = doJSON(t, h.router, http.MethodPost, "/ecdsa/rotate/"+sessionID+"/second", customerID, mpc.CoinFlipParty2First{Seed: party2Seed})
	require.Equal(t, http.StatusOK, code, "%v", resp)
	require.NotNil(t, resp)
	require.Contains(t, resp, "coin_flip_party1_second")
	require.Contains(t, resp, "rotation_msg1")

	rotationMsg1, ok := resp["rotation_msg1"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, rotationMsg1, "public_share_new")
	require.Contains(t, rotationMsg1, "ek_prime_new")
	require.NotContains(t, rotationMsg1, "private_key", "rotation_msg1 must never carry the new Paillier private key")
}

// TestCrossSessionSignFirstMintsSsidAndWritesScratch exercises the
// cross-session sign-first variant: it must mint an ssid of the form
// "<session_id>,<uuid>" and persist the ephemeral keypair under the
// Scratch Store rather than the Session Store.
func TestCrossSessionSignFirstMintsSsidAndWritesScratch(t *testing.T) {
	h := newTestServer(t)
	customerID := "cust-cross-1"

	sessionID, _ := runKeyGenToCompletion(t, h.router, customerID)

	x2, err := mpc.RandomScalar()
	require.NoError(t, err)
	x2Proof, err := mpc.ProveDLog(x2)
	require.NoError(t, err)

	code, resp := doJSON(t, h.router, http.MethodPost, "/ecdsa/sign/"+sessionID+"/first_v2", customerID, mpc.Party2EphKeyGenFirst{DLogProof: x2Proof})
	require.Equal(t, http.StatusOK, code, "%v", resp)

	ssid, ok := resp["ssid"].(string)
	require.True(t, ok)
	require.Contains(t, ssid, sessionID+",")

	// A same-session sign-first was never called, so the Session Store
	// must not carry an ephemeral keypair under session_id alone.
	var ephKeyPair mpc.EphEcKeyPair
	found, err := h.store.Get(context.Background(), customerID, sessionID, store.TagEphEcKeyPair, &ephKeyPair)
	require.NoError(t, err)
	require.False(t, found, "cross-session sign-first must not write to the Session Store")
}
