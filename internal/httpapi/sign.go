package httpapi

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jaydenbeard/gotham-party-one/internal/derive"
	"github.com/jaydenbeard/gotham-party-one/internal/metrics"
	"github.com/jaydenbeard/gotham-party-one/internal/mpc"
	"github.com/jaydenbeard/gotham-party-one/internal/security"
	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

// SignFirst is the same-session sign-first round (§4.5). The ephemeral
// keypair lives in the Session Store, keyed by session_id, for the
// lifetime of this one sign attempt.
func (s *Server) SignFirst(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	ctx := r.Context()
	if err := s.Gate.CheckNotTainted(ctx, customerID, id); err != nil {
		s.Audit.LogGateDenial(security.AuditEventGateTaintedDenied, customerID, id, err.Error())
		metrics.RecordProtocolRound("sign", "first", false, time.Since(start))
		writeError(w, err)
		return
	}

	var party2First mpc.Party2EphKeyGenFirst
	if err := decodeJSON(r, &party2First); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	msg, keyPair, err := mpc.EphKeyGenFirstMessage()
	if err != nil {
		metrics.RecordProtocolRound("sign", "first", false, time.Since(start))
		writeError(w, err)
		return
	}

	if err := s.Store.Put(ctx, customerID, id, store.TagEphKeyGenFirstMsg, *msg); err != nil {
		metrics.RecordProtocolRound("sign", "first", false, time.Since(start))
		writeError(w, err)
		return
	}
	if err := s.Store.Put(ctx, customerID, id, store.TagEphEcKeyPair, *keyPair); err != nil {
		metrics.RecordProtocolRound("sign", "first", false, time.Since(start))
		writeError(w, err)
		return
	}

	s.Audit.LogProtocolEvent(ctx, security.AuditEventSignRequested, security.AuditResultSuccess, customerID, id, "sign first round", nil)
	metrics.RecordProtocolRound("sign", "first", true, time.Since(start))
	writeJSON(w, http.StatusOK, msg)
}

type crossSessionFirstResponse struct {
	SSID string                  `json:"ssid"`
	Msg  *mpc.EphKeyGenFirstMsg `json:"msg"`
}

// SignFirstCrossSession backs both sign-first_v2 and sign-first_v3 (§4.6):
// they are structurally identical, the variants only diverge at sign-second
// in the shape of the derivation positions. A fresh ssid is minted and the
// ephemeral state is written to the Scratch Store instead of the Session
// Store, keyed by customer_id + "_" + ssid + "_" + tag.
func (s *Server) SignFirstCrossSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	ctx := r.Context()
	if err := s.Gate.CheckNotTainted(ctx, customerID, id); err != nil {
		s.Audit.LogGateDenial(security.AuditEventGateTaintedDenied, customerID, id, err.Error())
		metrics.RecordProtocolRound("sign", "first_v2", false, time.Since(start))
		writeError(w, err)
		return
	}

	var party2First mpc.Party2EphKeyGenFirst
	if err := decodeJSON(r, &party2First); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	msg, keyPair, err := mpc.EphKeyGenFirstMessage()
	if err != nil {
		metrics.RecordProtocolRound("sign", "first_v2", false, time.Since(start))
		writeError(w, err)
		return
	}

	ssid := id + "," + uuid.NewString()

	if err := s.putScratch(ctx, customerID, ssid, store.TagEphKeyGenFirstMsg, *msg); err != nil {
		metrics.RecordProtocolRound("sign", "first_v2", false, time.Since(start))
		writeError(w, err)
		return
	}
	if err := s.putScratch(ctx, customerID, ssid, store.TagEphEcKeyPair, *keyPair); err != nil {
		metrics.RecordProtocolRound("sign", "first_v2", false, time.Since(start))
		writeError(w, err)
		return
	}

	s.Audit.LogProtocolEvent(ctx, security.AuditEventSignRequested, security.AuditResultSuccess, customerID, id, "cross-session sign first round", map[string]any{"ssid": ssid})
	metrics.RecordProtocolRound("sign", "first_v2", true, time.Since(start))
	writeJSON(w, http.StatusOK, crossSessionFirstResponse{SSID: ssid, Msg: msg})
}

// signSecondRequest is the request body shape for the same-session
// sign-second round: the message to sign, party-two's partial-signature
// message, and the two-level BIP32 position that the spec's v1/v2 surface
// uses ([]BigInt in the v3 vector form).
type signSecondRequest struct {
	Message          string                        `json:"message"`
	Party2SignMsg    mpc.Party2SignSecondMessage   `json:"party2_sign_message"`
	XPosChildKey     *big.Int                      `json:"x_pos_child_key"`
	YPosChildKey     *big.Int                      `json:"y_pos_child_key"`
}

// SignSecond is the same-session sign-second round (§4.5). A verification
// failure here is the protocol's one adversarial signal: the session's
// Abort is flipped to blocked before the error is returned.
func (s *Server) SignSecond(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	id := sessionID(r)

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	var req signSecondRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.checkTxAuthorized(ctx, req.Message, customerID); err != nil {
		s.Audit.LogGateDenial(security.AuditEventGateTxDenied, customerID, id, err.Error())
		metrics.RecordProtocolRound("sign", "second", false, time.Since(start))
		writeError(w, err)
		return
	}

	var ephKeyPair mpc.EphEcKeyPair
	if err := requireArtifact(ctx, s.Store, customerID, id, store.TagEphEcKeyPair, &ephKeyPair); err != nil {
		metrics.RecordProtocolRound("sign", "second", false, time.Since(start))
		writeError(w, err)
		return
	}

	sig, err := s.signWithChildKey(ctx, customerID, id, []*big.Int{req.XPosChildKey, req.YPosChildKey}, &ephKeyPair, &req.Party2SignMsg, req.Message)
	if err != nil {
		metrics.RecordProtocolRound("sign", "second", false, time.Since(start))
		writeError(w, err)
		return
	}

	metrics.RecordProtocolRound("sign", "second", true, time.Since(start))
	writeJSON(w, http.StatusOK, sig)
}

type signSecondV2Request struct {
	Message       string                      `json:"message"`
	Party2SignMsg mpc.Party2SignSecondMessage `json:"party2_sign_message"`
	XPosChildKey  *big.Int                    `json:"x_pos_child_key"`
	YPosChildKey  *big.Int                    `json:"y_pos_child_key"`
}

// SignSecondV2 is the cross-session sign-second round with a two-level
// derivation path.
func (s *Server) SignSecondV2(w http.ResponseWriter, r *http.Request) {
	var req signSecondV2Request
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.signSecondCrossSession(w, r, "second_v2", req.Message, &req.Party2SignMsg, []*big.Int{req.XPosChildKey, req.YPosChildKey})
}

type signSecondV3Request struct {
	Message       string                      `json:"message"`
	Party2SignMsg mpc.Party2SignSecondMessage `json:"party2_sign_message"`
	PosChildKey   []*big.Int                  `json:"pos_child_key"`
}

// SignSecondV3 is the cross-session sign-second round with an n-level
// derivation path.
func (s *Server) SignSecondV3(w http.ResponseWriter, r *http.Request) {
	var req signSecondV3Request
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.signSecondCrossSession(w, r, "second_v3", req.Message, &req.Party2SignMsg, req.PosChildKey)
}

// signSecondCrossSession is shared by v2 and v3: both resolve their
// ephemeral state from the Scratch Store via ssid and both delete it
// afterward regardless of outcome; they differ only in the derivation
// positions their request bodies carry.
func (s *Server) signSecondCrossSession(w http.ResponseWriter, r *http.Request, round, message string, party2Msg *mpc.Party2SignSecondMessage, positions []*big.Int) {
	start := time.Now()
	customerID, ok := callerCustomerID(r)
	if !ok {
		http.Error(w, "x-customer-id required", http.StatusBadRequest)
		return
	}
	ssid := sessionID(r)

	parts := strings.Split(ssid, ",")
	if len(parts) != 2 {
		http.Error(w, "ssid must include only two values", http.StatusBadRequest)
		return
	}
	realSessionID := parts[0]

	unlock := s.Coordinator.Lock(customerID)
	defer unlock()

	ctx := r.Context()

	defer func() {
		_ = s.delScratch(ctx, customerID, ssid, store.TagEphKeyGenFirstMsg)
		_ = s.delScratch(ctx, customerID, ssid, store.TagEphEcKeyPair)
	}()

	if err := s.checkTxAuthorized(ctx, message, customerID); err != nil {
		s.Audit.LogGateDenial(security.AuditEventGateTxDenied, customerID, realSessionID, err.Error())
		metrics.RecordProtocolRound("sign", round, false, time.Since(start))
		writeError(w, err)
		return
	}

	var ephKeyPair mpc.EphEcKeyPair
	ok, err := s.getScratch(ctx, customerID, ssid, store.TagEphEcKeyPair, &ephKeyPair)
	if err != nil {
		metrics.RecordProtocolRound("sign", round, false, time.Since(start))
		writeError(w, err)
		return
	}
	if !ok {
		metrics.RecordProtocolRound("sign", round, false, time.Since(start))
		writeError(w, fmt.Errorf("Value from %s with customer_id %s, id %s is required", store.TagEphEcKeyPair, customerID, ssid))
		return
	}

	sig, err := s.signWithChildKey(ctx, customerID, realSessionID, positions, &ephKeyPair, party2Msg, message)
	if err != nil {
		metrics.RecordProtocolRound("sign", round, false, time.Since(start))
		writeError(w, err)
		return
	}

	metrics.RecordProtocolRound("sign", round, true, time.Since(start))
	writeJSON(w, http.StatusOK, sig)
}

// signWithChildKey derives the signing key via internal/derive, runs
// sign-second, and on a verification failure taints the session's Abort
// slot before returning the error.
func (s *Server) signWithChildKey(ctx context.Context, customerID, sessionID string, positions []*big.Int, ephKeyPair *mpc.EphEcKeyPair, party2Msg *mpc.Party2SignSecondMessage, messageHex string) (*mpc.SignatureRecid, error) {
	childKey, err := derive.Child(ctx, s.Store, customerID, sessionID, positions)
	if err != nil {
		return nil, err
	}

	messageBytes, err := hex.DecodeString(messageHex)
	if err != nil {
		return nil, fmt.Errorf("message must be hex-encoded: %w", err)
	}
	message := new(big.Int).SetBytes(messageBytes)

	sig, err := mpc.SignSecondMessage(childKey, ephKeyPair, party2Msg, message)
	if err != nil {
		if putErr := s.Store.Put(ctx, customerID, sessionID, store.TagAbort, mpc.Abort{Blocked: true}); putErr != nil {
			return nil, putErr
		}
		metrics.RecordSessionTainted()
		s.Audit.LogProtocolEvent(ctx, security.AuditEventSessionTainted, security.AuditResultFailure, customerID, sessionID, err.Error(), nil)
		s.Audit.LogProtocolEvent(ctx, security.AuditEventSignFailed, security.AuditResultFailure, customerID, sessionID, err.Error(), nil)
		return nil, err
	}

	s.Audit.LogProtocolEvent(ctx, security.AuditEventSignCompleted, security.AuditResultSuccess, customerID, sessionID, "signature produced", nil)
	return sig, nil
}

func (s *Server) checkTxAuthorized(ctx context.Context, messageHex, customerID string) error {
	return s.Gate.CheckTxAuthorized(ctx, messageHex, customerID)
}
