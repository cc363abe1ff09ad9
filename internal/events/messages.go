package events

import (
	"encoding/json"
	"time"

	"khata/internal/core"
)

// ChangeEvent announces that a user's transactions or categories
// changed. It carries only the scope; consumers refetch the snapshot
// themselves.
type ChangeEvent struct {
	UID        string           `json:"uid"`
	Profile    core.ProfileType `json:"profile"`
	Collection string           `json:"collection"`
	Timestamp  time.Time        `json:"timestamp"`
}

func NewChangeEvent(uid string, profile core.ProfileType, collection string) *ChangeEvent {
	return &ChangeEvent{
		UID:        uid,
		Profile:    profile,
		Collection: collection,
		Timestamp:  time.Now(),
	}
}

func (e *ChangeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func ChangeEventFromJSON(data []byte) (*ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
