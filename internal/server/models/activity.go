package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Activity is one upstream activity. Apart from the id the payload is
// opaque: the original JSON is kept and written back unchanged.
type Activity struct {
	ID  int64
	raw json.RawMessage
}

// UnmarshalJSON accepts only JSON objects carrying a numeric "id".
func (a *Activity) UnmarshalJSON(b []byte) error {
	var head struct {
		ID *json.Number `json:"id"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("activity is not an object: %w", err)
	}
	if head.ID == nil {
		return errors.New("activity without id")
	}
	id, err := head.ID.Int64()
	if err != nil {
		return fmt.Errorf("activity id %q: %w", head.ID.String(), err)
	}

	a.ID = id
	a.raw = append(json.RawMessage(nil), bytes.TrimSpace(b)...)
	return nil
}

func (a Activity) MarshalJSON() ([]byte, error) {
	if len(a.raw) == 0 {
		return json.Marshal(struct {
			ID int64 `json:"id"`
		}{a.ID})
	}
	return a.raw, nil
}

// Raw returns the activity exactly as the provider sent it.
func (a Activity) Raw() json.RawMessage {
	return a.raw
}
