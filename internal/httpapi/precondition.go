package httpapi

import (
	"context"
	"fmt"

	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

// requireArtifact loads a required round precondition, translating a
// missing slot into the spec's exact "Value from <tag> with customer_id X,
// id Y is required" wording. A genuine storage failure passes through
// unchanged so writeError can tell the two apart.
func requireArtifact(ctx context.Context, st store.Store, customerID, sessionID string, tag store.Tag, out any) error {
	ok, err := st.Get(ctx, customerID, sessionID, tag, out)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Value from %s with customer_id %s, id %s is required", tag, customerID, sessionID)
	}
	return nil
}
