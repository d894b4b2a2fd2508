// Package gate implements the Authorization Gate: three pure decision
// checks consulted at fixed points in the protocol state machines. A gate
// never mutates state; callers act on the returned decision.
package gate

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jaydenbeard/gotham-party-one/internal/metrics"
	"github.com/jaydenbeard/gotham-party-one/internal/mpc"
	"github.com/jaydenbeard/gotham-party-one/internal/scratch"
	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

var gateLog = log.New(os.Stdout, "[GATE] ", log.LstdFlags)

// Gate evaluates the three authorization checks against the Session Store
// and the redis-pps policy set in the Scratch Store.
type Gate struct {
	store   store.Store
	scratch *scratch.RedisStore
}

func New(s store.Store, sc *scratch.RedisStore) *Gate {
	return &Gate{store: s, scratch: sc}
}

// redisEnabled reports whether REDIS_ENV is set, gating the active-share
// and tx-authorization checks per the environment contract.
func redisEnabled() bool {
	return os.Getenv("REDIS_ENV") != ""
}

// CheckActiveShare is consulted at KeyGen-first. When REDIS_ENV is unset
// it always allows. When set, it denies only if the customer already has
// an active share AND FAIL_KEYGEN_IF_ACTIVE_SHARE_EXISTS == "true"; any
// other case is logged and allowed.
func (g *Gate) CheckActiveShare(ctx context.Context, customerID string) error {
	if !redisEnabled() {
		metrics.RecordGateDecision("active_share", true)
		return nil
	}

	has, err := g.store.HasActiveShare(ctx, customerID)
	if err != nil {
		metrics.RecordGateDecision("active_share", false)
		return fmt.Errorf("active share check failed for customer %s: %w", customerID, err)
	}

	if has {
		if os.Getenv("FAIL_KEYGEN_IF_ACTIVE_SHARE_EXISTS") == "true" {
			metrics.RecordGateDecision("active_share", false)
			return fmt.Errorf("customer %s already has an active share", customerID)
		}
		gateLog.Printf("customer %s has an active share, proceeding anyway", customerID)
	}

	metrics.RecordGateDecision("active_share", true)
	return nil
}

// CheckNotTainted is consulted at every sign-first. It loads the Abort
// slot (default {blocked: false} when absent) and refuses if blocked.
func (g *Gate) CheckNotTainted(ctx context.Context, customerID, sessionID string) error {
	var abort mpc.Abort
	ok, err := g.store.Get(ctx, customerID, sessionID, store.TagAbort, &abort)
	if err != nil {
		metrics.RecordGateDecision("tainted", false)
		return fmt.Errorf("tainted check failed for customer %s: %w", customerID, err)
	}
	if !ok {
		metrics.RecordGateDecision("tainted", true)
		return nil
	}

	if abort.Blocked {
		metrics.RecordGateDecision("tainted", false)
		return fmt.Errorf("customer %s is blocked from signing: session tainted by a prior failure", customerID)
	}

	metrics.RecordGateDecision("tainted", true)
	return nil
}

// CheckTxAuthorized is consulted at sign-second. When REDIS_ENV is unset
// it always allows. When set, it consults the redis-pps policy set keyed
// by customerID for messageHex.
func (g *Gate) CheckTxAuthorized(ctx context.Context, messageHex, customerID string) error {
	if !redisEnabled() {
		metrics.RecordGateDecision("tx_authorization", true)
		return nil
	}

	setKey := "redis-pps:" + customerID
	granted, err := g.scratch.IsMember(ctx, setKey, messageHex)
	if err != nil {
		metrics.RecordGateDecision("tx_authorization", false)
		return fmt.Errorf("tx authorization check failed for customer %s: %w", customerID, err)
	}

	if !granted {
		metrics.RecordGateDecision("tx_authorization", false)
		return fmt.Errorf("Unauthorized transaction from redis-pps")
	}

	metrics.RecordGateDecision("tx_authorization", true)
	return nil
}
