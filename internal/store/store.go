package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Store is the Session Store contract: a typed durable map from
// (customer_id, session_id, tag) to a serialized artifact.
type Store interface {
	// Put writes value under (customerID, sessionID, tag). value must be a
	// pointer to (or value of) the type bound to tag; writes are durable
	// before Put returns.
	Put(ctx context.Context, customerID, sessionID string, tag Tag, value any) error

	// Get loads the artifact for (customerID, sessionID, tag) into out, a
	// pointer to the type bound to tag. ok is false (with nil error) when
	// the slot is simply absent; missing is distinct from error.
	Get(ctx context.Context, customerID, sessionID string, tag Tag, out any) (ok bool, err error)

	// HasActiveShare reports whether customerID has any persisted
	// Party1MasterKey.
	HasActiveShare(ctx context.Context, customerID string) (bool, error)

	Close() error
}

// checkType validates that out's pointee type matches the type bound to
// tag, surfacing the spec's "Unable to cast to <type>" error otherwise.
// This should never fire if the binding invariant holds; a mismatch is a
// serious internal error, not a data condition.
func checkType(tag Tag, out any) error {
	bound, ok := typeFor(tag)
	if !ok {
		return fmt.Errorf("store: tag %q is not bound to any type", tag)
	}
	got := reflect.TypeOf(out)
	if got.Kind() != reflect.Ptr || got.Elem() != bound {
		return fmt.Errorf("store: unable to cast to %s", bound.Name())
	}
	return nil
}

func marshalArtifact(tag Tag, value any) ([]byte, error) {
	if err := checkType(tag, ptrTo(value)); err != nil {
		// value may legitimately be passed by value rather than pointer on
		// Put; fall back to checking its type directly against the binding.
		bound, ok := typeFor(tag)
		if !ok || reflect.TypeOf(value) != bound {
			return nil, err
		}
	}
	return json.Marshal(value)
}

func ptrTo(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		return value
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p.Interface()
}

func unmarshalArtifact(tag Tag, data []byte, out any) error {
	if err := checkType(tag, out); err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
