// Package derive implements the non-interactive Key Derivation component:
// given a persisted MasterKey1 and a list of BIP32-style positions, it
// returns the derived child key without mutating stored state. Both the
// Sign state machine (deriving the signing key before sign-second) and any
// future standalone derivation caller go through this one function so the
// "load, then get_child" sequence is written once.
package derive

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jaydenbeard/gotham-party-one/internal/mpc"
	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

// Child loads (customerID, sessionID)'s Party1MasterKey and applies
// positions, returning a fresh MasterKey1 that is never persisted.
func Child(ctx context.Context, st store.Store, customerID, sessionID string, positions []*big.Int) (*mpc.MasterKey1, error) {
	var master mpc.MasterKey1
	ok, err := st.Get(ctx, customerID, sessionID, store.TagParty1MasterKey, &master)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("Value from %s with customer_id %s, id %s is required", store.TagParty1MasterKey, customerID, sessionID)
	}
	return master.GetChild(positions), nil
}
