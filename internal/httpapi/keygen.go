package httpapi

import (
	"math/big"
	"net/http"
	"time"

	"github.com/binance-chain/tss-lib/crypto/paillier"
	"github.com/google/uuid"
	"github.com/jaydenbeard/gotham-party-one/internal/metrics"
	"github.com/jaydenbeard/gotham-party-one/internal/mpc"
	"github.com/jaydenbeard/gotham-party-one/internal/security"
	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

type keyGenFirstResponse struct {
	SessionID    string             `json:"session_id"`
	KeyGenFirst  *mpc.KeyGenFirstMsg `json:"keygen_first_msg"`
}

// KeyGenFirst is S0 -> S1. It mints a fresh session_id, consults the
// active-share gate, and persists the session's starting artifacts.
func (s *Server) KeyGenFirst(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	ctx := r.Context()
	if err := s.Gate.CheckActiveShare(ctx, customerID); err != nil {
		s.Audit.LogGateDenial(security.AuditEventGateActiveShareDenied, customerID, "", err.Error())
		metrics.RecordProtocolRound("keygen", "first", false, time.Since(start))
		writeError(w, err)
		return
	}

	sessionID := uuid.NewString()

	msg, witness, keyPair, err := mpc.KeyGenFirstMessage()
	if err != nil {
		metrics.RecordProtocolRound("keygen", "first", false, time.Since(start))
		writeError(w, err)
		return
	}

	for tag, value := range map[store.Tag]any{
		store.TagPOS:             mpc.POS{Pos: 0},
		store.TagKeyGenFirstMsg:  *msg,
		store.TagCommWitness:     *witness,
		store.TagEcKeyPair:       *keyPair,
		store.TagAbort:           mpc.Abort{Blocked: false},
	} {
		if err := s.Store.Put(ctx, customerID, sessionID, tag, value); err != nil {
			metrics.RecordProtocolRound("keygen", "first", false, time.Since(start))
			writeError(w, err)
			return
		}
	}

	s.Audit.LogProtocolEvent(ctx, security.AuditEventSessionCreated, security.AuditResultSuccess, customerID, sessionID, "keygen session created", nil)
	s.Audit.LogProtocolEvent(ctx, security.AuditEventKeyGenStarted, security.AuditResultSuccess, customerID, sessionID, "keygen first round", nil)
	metrics.RecordProtocolRound("keygen", "first", true, time.Since(start))
	writeJSON(w, http.StatusOK, keyGenFirstResponse{SessionID: sessionID, KeyGenFirst: msg})
}

// party1KeyGenMessage2 is the sanitized wire form of round two's output:
// party-two needs party-one's Paillier public key and its own encrypted
// share to build the PDL first message, but must never see the Paillier
// private key, so this is NOT the raw PaillierKeyPair artifact.
type party1KeyGenMessage2 struct {
	EkPrime   *paillier.PublicKey `json:"ek_prime"`
	CKeyPrime *big.Int            `json:"c_key_prime"`
}

// KeyGenSecond is S1 -> S2.
func (s *Server) KeyGenSecond(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	var dlogProof mpc.DLogProof
	if err := decodeJSON(r, &dlogProof); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var witness mpc.CommWitness
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagCommWitness, &witness); err != nil {
		metrics.RecordProtocolRound("keygen", "second", false, time.Since(start))
		writeError(w, err)
		return
	}
	var keyPair mpc.EcKeyPair
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagEcKeyPair, &keyPair); err != nil {
		metrics.RecordProtocolRound("keygen", "second", false, time.Since(start))
		writeError(w, err)
		return
	}

	party2Public, paillierPair, party1Private, err := mpc.KeyGenSecondMessage(&witness, &keyPair, &dlogProof)
	if err != nil {
		s.Audit.LogProtocolEvent(ctx, security.AuditEventKeyGenFailed, security.AuditResultFailure, customerID, id, err.Error(), nil)
		metrics.RecordProtocolRound("keygen", "second", false, time.Since(start))
		writeError(w, err)
		return
	}

	for tag, value := range map[store.Tag]any{
		store.TagParty2Public:    *party2Public,
		store.TagPaillierKeyPair: *paillierPair,
		store.TagParty1Private:   *party1Private,
	} {
		if err := s.Store.Put(ctx, customerID, id, tag, value); err != nil {
			metrics.RecordProtocolRound("keygen", "second", false, time.Since(start))
			writeError(w, err)
			return
		}
	}

	metrics.RecordProtocolRound("keygen", "second", true, time.Since(start))
	writeJSON(w, http.StatusOK, party1KeyGenMessage2{EkPrime: paillierPair.PublicKey, CKeyPrime: paillierPair.EncryptedShare})
}

// KeyGenThird is S2 -> S3.
func (s *Server) KeyGenThird(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	var party2First mpc.Party2PDLFirstMsg
	if err := decodeJSON(r, &party2First); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var priv mpc.Party1Private
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagParty1Private, &priv); err != nil {
		metrics.RecordProtocolRound("keygen", "third", false, time.Since(start))
		writeError(w, err)
		return
	}

	firstMsg, decommit, alpha, party2Echo, err := mpc.KeyGenThirdMessage(&party2First, &priv)
	if err != nil {
		metrics.RecordProtocolRound("keygen", "third", false, time.Since(start))
		writeError(w, err)
		return
	}

	for tag, value := range map[store.Tag]any{
		store.TagPDLDecommit:       *decommit,
		store.TagAlpha:             *alpha,
		store.TagParty2PDLFirstMsg: *party2Echo,
	} {
		if err := s.Store.Put(ctx, customerID, id, tag, value); err != nil {
			metrics.RecordProtocolRound("keygen", "third", false, time.Since(start))
			writeError(w, err)
			return
		}
	}

	metrics.RecordProtocolRound("keygen", "third", true, time.Since(start))
	writeJSON(w, http.StatusOK, firstMsg)
}

// KeyGenFourth is S3 -> S4. A verification failure here is session-fatal
// but not adversarial: it does not taint the session (per the spec's
// distinction between a keygen-fourth failure and a sign-second failure).
func (s *Server) KeyGenFourth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	var party2Second mpc.Party2PDLSecondMsg
	if err := decodeJSON(r, &party2Second); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var party2Public mpc.Party2Public
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagParty2Public, &party2Public); err != nil {
		metrics.RecordProtocolRound("keygen", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}
	var alpha mpc.Alpha
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagAlpha, &alpha); err != nil {
		metrics.RecordProtocolRound("keygen", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}
	var decommit mpc.PDLDecommit
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagPDLDecommit, &decommit); err != nil {
		metrics.RecordProtocolRound("keygen", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}

	result, err := mpc.KeyGenFourthMessage(&party2Public, &party2Second, &alpha, &decommit)
	if err != nil {
		s.Audit.LogProtocolEvent(ctx, security.AuditEventKeyGenFailed, security.AuditResultFailure, customerID, id, err.Error(), nil)
		metrics.RecordProtocolRound("keygen", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}

	metrics.RecordProtocolRound("keygen", "fourth", true, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

// KeyGenChainCodeFirst is S4 -> S5.
func (s *Server) KeyGenChainCodeFirst(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	msg, witness, keyPair, err := mpc.ChainCodeFirstMessage()
	if err != nil {
		metrics.RecordProtocolRound("keygen", "cc_first", false, time.Since(start))
		writeError(w, err)
		return
	}

	ctx := r.Context()
	for tag, value := range map[store.Tag]any{
		store.TagCCKeyGenFirstMsg: *msg,
		store.TagCCCommWitness:    *witness,
		store.TagCCEcKeyPair:      *keyPair,
	} {
		if err := s.Store.Put(ctx, customerID, id, tag, value); err != nil {
			metrics.RecordProtocolRound("keygen", "cc_first", false, time.Since(start))
			writeError(w, err)
			return
		}
	}

	metrics.RecordProtocolRound("keygen", "cc_first", true, time.Since(start))
	writeJSON(w, http.StatusOK, msg)
}

type ccSecondResponse struct {
	PublicKey *mpc.Point `json:"public_key"`
	ChainCode []byte     `json:"chain_code"`
}

// KeyGenChainCodeSecond is S5 -> DONE: it finalizes and persists Party1MasterKey.
func (s *Server) KeyGenChainCodeSecond(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	var party2DLogProof mpc.DLogProof
	if err := decodeJSON(r, &party2DLogProof); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var ccWitness mpc.CCCommWitness
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagCCCommWitness, &ccWitness); err != nil {
		metrics.RecordProtocolRound("keygen", "cc_second", false, time.Since(start))
		writeError(w, err)
		return
	}
	var ccKeyPair mpc.CCEcKeyPair
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagCCEcKeyPair, &ccKeyPair); err != nil {
		metrics.RecordProtocolRound("keygen", "cc_second", false, time.Since(start))
		writeError(w, err)
		return
	}
	var party2Public mpc.Party2Public
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagParty2Public, &party2Public); err != nil {
		metrics.RecordProtocolRound("keygen", "cc_second", false, time.Since(start))
		writeError(w, err)
		return
	}
	var priv mpc.Party1Private
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagParty1Private, &priv); err != nil {
		metrics.RecordProtocolRound("keygen", "cc_second", false, time.Since(start))
		writeError(w, err)
		return
	}
	var paillierPair mpc.PaillierKeyPair
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagPaillierKeyPair, &paillierPair); err != nil {
		metrics.RecordProtocolRound("keygen", "cc_second", false, time.Since(start))
		writeError(w, err)
		return
	}

	if err := mpc.ChainCodeSecondMessage(&ccWitness, &party2DLogProof); err != nil {
		s.Audit.LogProtocolEvent(ctx, security.AuditEventKeyGenFailed, security.AuditResultFailure, customerID, id, err.Error(), nil)
		metrics.RecordProtocolRound("keygen", "cc_second", false, time.Since(start))
		writeError(w, err)
		return
	}

	chainCode := mpc.ComputeChainCode(&ccKeyPair, party2Public.Point)
	masterKey := mpc.SetMasterKey(chainCode, &priv, ccWitness.PublicShare, party2Public.Point, &paillierPair)

	if err := s.Store.Put(ctx, customerID, id, store.TagCC, mpc.CC{ChainCode: chainCode}); err != nil {
		metrics.RecordProtocolRound("keygen", "cc_second", false, time.Since(start))
		writeError(w, err)
		return
	}
	if err := s.Store.Put(ctx, customerID, id, store.TagParty1MasterKey, *masterKey); err != nil {
		metrics.RecordProtocolRound("keygen", "cc_second", false, time.Since(start))
		writeError(w, err)
		return
	}

	s.Audit.LogProtocolEvent(ctx, security.AuditEventKeyGenerated, security.AuditResultSuccess, customerID, id, "master key generated", nil)
	metrics.RecordProtocolRound("keygen", "cc_second", true, time.Since(start))
	writeJSON(w, http.StatusOK, ccSecondResponse{PublicKey: masterKey.PublicKey, ChainCode: chainCode})
}
