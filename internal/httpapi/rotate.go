package httpapi

import (
	"math/big"
	"net/http"
	"time"

	cmt "github.com/binance-chain/tss-lib/crypto/commitments"
	"github.com/binance-chain/tss-lib/crypto/paillier"
	"github.com/jaydenbeard/gotham-party-one/internal/metrics"
	"github.com/jaydenbeard/gotham-party-one/internal/mpc"
	"github.com/jaydenbeard/gotham-party-one/internal/security"
	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

type rotateFirstResponse struct {
	Commitment cmt.HashCommitment `json:"commitment"`
}

// RotateFirst is R0 -> R1.
func (s *Server) RotateFirst(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	commitMsg, err := mpc.RotateFirst()
	if err != nil {
		metrics.RecordProtocolRound("rotate", "first", false, time.Since(start))
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := s.Store.Put(ctx, customerID, id, store.TagRotateCommitMessage1, *commitMsg); err != nil {
		metrics.RecordProtocolRound("rotate", "first", false, time.Since(start))
		writeError(w, err)
		return
	}

	s.Audit.LogProtocolEvent(ctx, security.AuditEventRotateStarted, security.AuditResultSuccess, customerID, id, "rotate first round", nil)
	metrics.RecordProtocolRound("rotate", "first", true, time.Since(start))
	writeJSON(w, http.StatusOK, rotateFirstResponse{Commitment: commitMsg.Commitment})
}

// rotationMsg1Public is rotation_msg1 with its secret material stripped:
// party-two only needs the new public share and Paillier public key to
// drive its side of the rotated PDL exchange.
type rotationMsg1Public struct {
	PublicShareNew *mpc.Point          `json:"public_share_new"`
	EkPrimeNew     *paillier.PublicKey `json:"ek_prime_new"`
	CKeyPrimeNew   *big.Int            `json:"c_key_prime_new"`
}

type rotateSecondResponse struct {
	CoinFlipParty1Second *mpc.CoinFlipParty1Second `json:"coin_flip_party1_second"`
	RotationMsg1         *rotationMsg1Public        `json:"rotation_msg1"`
}

// RotateSecond is R1 -> R2. A bounds-check failure returns a bare JSON
// null: the protocol's one "success shape signals abort" response.
func (s *Server) RotateSecond(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	var party2First mpc.CoinFlipParty2First
	if err := decodeJSON(r, &party2First); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var commitMsg1 mpc.RotateCommitMessage1
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagRotateCommitMessage1, &commitMsg1); err != nil {
		metrics.RecordProtocolRound("rotate", "second", false, time.Since(start))
		writeError(w, err)
		return
	}
	var currentMaster mpc.MasterKey1
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagParty1MasterKey, &currentMaster); err != nil {
		metrics.RecordProtocolRound("rotate", "second", false, time.Since(start))
		writeError(w, err)
		return
	}

	party1Second, rotationMsg1, privateNew, randomNew, boundsOK, err := mpc.RotateSecond(&commitMsg1, &party2First, &currentMaster)
	if err != nil {
		metrics.RecordProtocolRound("rotate", "second", false, time.Since(start))
		writeError(w, err)
		return
	}
	if !boundsOK {
		s.Audit.LogProtocolEvent(ctx, security.AuditEventRotateFailed, security.AuditResultFailure, customerID, id, "rotation factor out of bounds", nil)
		metrics.RecordProtocolRound("rotate", "second", false, time.Since(start))
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for tag, value := range map[store.Tag]any{
		store.TagRotateRandom1:    *randomNew,
		store.TagRotateFirstMsg:   *rotationMsg1,
		store.TagRotatePrivateNew: *privateNew,
	} {
		if err := s.Store.Put(ctx, customerID, id, tag, value); err != nil {
			metrics.RecordProtocolRound("rotate", "second", false, time.Since(start))
			writeError(w, err)
			return
		}
	}

	metrics.RecordProtocolRound("rotate", "second", true, time.Since(start))
	writeJSON(w, http.StatusOK, rotateSecondResponse{
		CoinFlipParty1Second: party1Second,
		RotationMsg1: &rotationMsg1Public{
			PublicShareNew: rotationMsg1.EcKeyPairNew.PublicShare,
			EkPrimeNew:     rotationMsg1.PaillierKeyPairNew.PublicKey,
			CKeyPrimeNew:   rotationMsg1.PaillierKeyPairNew.EncryptedShare,
		},
	})
}

// RotateThird is R2 -> R3.
func (s *Server) RotateThird(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	var party2First mpc.RotateParty2First
	if err := decodeJSON(r, &party2First); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var privateNew mpc.RotatePrivateNew
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagRotatePrivateNew, &privateNew); err != nil {
		metrics.RecordProtocolRound("rotate", "third", false, time.Since(start))
		writeError(w, err)
		return
	}

	firstMsg, decommit, alpha, party2Echo, err := mpc.RotateThird(&party2First, &privateNew)
	if err != nil {
		metrics.RecordProtocolRound("rotate", "third", false, time.Since(start))
		writeError(w, err)
		return
	}

	for tag, value := range map[store.Tag]any{
		store.TagRotateAlpha:       *alpha,
		store.TagRotatePdlDecom:    *decommit,
		store.TagRotateParty2First: *party2Echo,
		store.TagRotateParty1Second: *firstMsg,
	} {
		if err := s.Store.Put(ctx, customerID, id, tag, value); err != nil {
			metrics.RecordProtocolRound("rotate", "third", false, time.Since(start))
			writeError(w, err)
			return
		}
	}

	metrics.RecordProtocolRound("rotate", "third", true, time.Since(start))
	writeJSON(w, http.StatusOK, firstMsg)
}

// RotateFourth is R3 -> DONE. On success it atomically replaces the
// session's Party1MasterKey. A verification failure surfaces "rotation
// failed" and leaves the existing master key untouched — no taint, unlike
// a sign-second failure.
func (s *Server) RotateFourth(w http.ResponseWriter, r *http.Request) {
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
	var alpha mpc.RotateAlpha
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagRotateAlpha, &alpha); err != nil {
		metrics.RecordProtocolRound("rotate", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}
	var privateNew mpc.RotatePrivateNew
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagRotatePrivateNew, &privateNew); err != nil {
		metrics.RecordProtocolRound("rotate", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}
	var rotationMsg1 mpc.RotateFirstMsg
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagRotateFirstMsg, &rotationMsg1); err != nil {
		metrics.RecordProtocolRound("rotate", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}
	var currentMaster mpc.MasterKey1
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagParty1MasterKey, &currentMaster); err != nil {
		metrics.RecordProtocolRound("rotate", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}

	result, newMaster, err := mpc.RotateFourth(&party2Second, &alpha, &privateNew, rotationMsg1.PaillierKeyPairNew, currentMaster.ChainCode)
	if err != nil {
		s.Audit.LogProtocolEvent(ctx, security.AuditEventRotateFailed, security.AuditResultFailure, customerID, id, err.Error(), nil)
		metrics.RecordProtocolRound("rotate", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}

	if err := s.Store.Put(ctx, customerID, id, store.TagParty1MasterKey, *newMaster); err != nil {
		metrics.RecordProtocolRound("rotate", "fourth", false, time.Since(start))
		writeError(w, err)
		return
	}

	s.Audit.LogProtocolEvent(ctx, security.AuditEventKeyRotated, security.AuditResultSuccess, customerID, id, "master key rotated", nil)
	metrics.RecordProtocolRound("rotate", "fourth", true, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}
