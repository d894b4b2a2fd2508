package httpapi

import (
	"context"
	"encoding/json"

	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

// scratchKey reproduces the spec's cross-session key encoding:
// customer_id + "_" + ssid + "_" + tag_name.
func scratchKey(customerID, ssid string, tag store.Tag) string {
	return customerID + "_" + ssid + "_" + string(tag)
}

func (s *Server) putScratch(ctx context.Context, customerID, ssid string, tag store.Tag, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Scratch.Set(ctx, scratchKey(customerID, ssid, tag), string(data), 0)
}

func (s *Server) getScratch(ctx context.Context, customerID, ssid string, tag store.Tag, out any) (bool, error) {
	data, ok, err := s.Scratch.Get(ctx, scratchKey(customerID, ssid, tag))
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Server) delScratch(ctx context.Context, customerID, ssid string, tag store.Tag) error {
	return s.Scratch.Del(ctx, scratchKey(customerID, ssid, tag))
}
