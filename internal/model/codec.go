package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion is the version stamped on every task written by this release.
//
// History:
//
//	0: flat string dictionary {id, action, time, count, data1, data2, userId}
//	1: flat record {uuid, messageID, actionString, userID, dependencyIDs, data1, data2, isConversation}
//	2: versioned record with a tagged action object
const SchemaVersion = 2

var (
	// ErrUnknownAction is returned when a payload names an action kind this
	// release does not know.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnsupportedVersion is returned for payloads written by a newer release.
	ErrUnsupportedVersion = errors.New("unsupported task schema version")

	// ErrUnrecognizedPayload is returned when a payload matches none of the
	// known schemas.
	ErrUnrecognizedPayload = errors.New("unrecognized task payload")
)

// ParseActionKind resolves a persisted kind name, including names used by
// older releases.
func ParseActionKind(s string) (ActionKind, bool) {
	if k, ok := legacyKindAliases[s]; ok {
		return k, true
	}
	k := ActionKind(s)
	return k, k.Known()
}

type taskRecord struct {
	Version       int             `json:"version"`
	EntityID      string          `json:"entity_id"`
	OwnerID       string          `json:"owner_id"`
	Action        json.RawMessage `json:"action"`
	DependencyIDs []string        `json:"dependency_ids"`
	IsAggregate   bool            `json:"is_aggregate"`
}

// MarshalAction encodes an action as a single-key object {kind: params}.
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("marshaling action: %w", ErrInvalidTask)
	}
	params, err := json.Marshal(deref(a))
	if err != nil {
		return nil, fmt.Errorf("marshaling %s params: %w", a.Kind(), err)
	}
	return json.Marshal(map[ActionKind]json.RawMessage{a.Kind(): params})
}

// UnmarshalAction decodes an object produced by MarshalAction.
func UnmarshalAction(data []byte) (Action, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("decoding action: expected one key, found %d", len(obj))
	}
	for name, params := range obj {
		kind, ok := ParseActionKind(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
		}
		a, _ := newAction(kind)
		if len(params) > 0 && string(params) != "null" {
			if err := json.Unmarshal(params, a); err != nil {
				return nil, fmt.Errorf("decoding %s params: %w", kind, err)
			}
		}
		return deref(a), nil
	}
	return nil, ErrUnrecognizedPayload
}

// MarshalJSON writes the task in the current schema.
func (t Task) MarshalJSON() ([]byte, error) {
	action, err := MarshalAction(t.Action)
	if err != nil {
		return nil, err
	}
	deps := t.DependencyIDs
	if deps == nil {
		deps = []string{}
	}
	return json.Marshal(taskRecord{
		Version:       SchemaVersion,
		EntityID:      t.EntityID,
		OwnerID:       t.OwnerID,
		Action:        action,
		DependencyIDs: deps,
		IsAggregate:   t.IsAggregate,
	})
}

// UnmarshalJSON reads a task written in any known schema. The task ID is not
// part of the payload and is left untouched.
func (t *Task) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decoding task: %w", err)
	}

	switch {
	case probe["version"] != nil:
		return t.decodeCurrent(data)
	case probe["actionString"] != nil:
		return t.decodeFlat(data)
	case probe["action"] != nil && probe["userId"] != nil:
		return t.decodeDictionary(data)
	}
	return ErrUnrecognizedPayload
}

func (t *Task) decodeCurrent(data []byte) error {
	var rec taskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decoding task: %w", err)
	}
	if rec.Version > SchemaVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}
	action, err := UnmarshalAction(rec.Action)
	if err != nil {
		return err
	}
	t.EntityID = rec.EntityID
	t.OwnerID = rec.OwnerID
	t.Action = action
	t.DependencyIDs = rec.DependencyIDs
	t.IsAggregate = rec.IsAggregate
	return nil
}

type flatRecord struct {
	UUID           string   `json:"uuid"`
	MessageID      string   `json:"messageID"`
	ActionString   string   `json:"actionString"`
	UserID         string   `json:"userID"`
	DependencyIDs  []string `json:"dependencyIDs"`
	Data1          string   `json:"data1"`
	Data2          string   `json:"data2"`
	IsConversation bool     `json:"isConversation"`
}

func (t *Task) decodeFlat(data []byte) error {
	var rec flatRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decoding v1 task: %w", err)
	}
	action, err := legacyAction(rec.ActionString, rec.MessageID, rec.Data1, rec.Data2)
	if err != nil {
		return err
	}
	t.EntityID = rec.MessageID
	t.OwnerID = rec.UserID
	t.Action = action
	t.DependencyIDs = rec.DependencyIDs
	t.IsAggregate = rec.IsConversation
	return nil
}

// dictionaryRecord is the oldest format: every value is a string and there
// are no dependencies.
type dictionaryRecord struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Time   string `json:"time"`
	Count  string `json:"count"`
	Data1  string `json:"data1"`
	Data2  string `json:"data2"`
	UserID string `json:"userId"`
}

func (t *Task) decodeDictionary(data []byte) error {
	var rec dictionaryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decoding v0 task: %w", err)
	}
	action, err := legacyAction(rec.Action, rec.ID, rec.Data1, rec.Data2)
	if err != nil {
		return err
	}
	t.EntityID = rec.ID
	t.OwnerID = rec.UserID
	t.Action = action
	t.DependencyIDs = nil
	t.IsAggregate = false
	return nil
}

// legacyAction rebuilds a typed action from the positional fields older
// releases stored.
func legacyAction(name, messageID, data1, data2 string) (Action, error) {
	kind, ok := ParseActionKind(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	var items []string
	if messageID != "" {
		items = []string{messageID}
	}

	switch kind {
	case KindSaveDraft:
		return SaveDraft{MessageObjectID: messageID}, nil
	case KindSend:
		return Send{MessageObjectID: messageID}, nil
	case KindUploadAttachment:
		return UploadAttachment{AttachmentObjectID: data1}, nil
	case KindUploadPublicKey:
		return UploadPublicKey{AttachmentObjectID: data1}, nil
	case KindDeleteAttachment:
		return DeleteAttachment{AttachmentObjectID: data1}, nil
	case KindUpdateAttKeyPacket:
		return UpdateAttKeyPacket{MessageObjectID: messageID, AddressID: data1}, nil
	case KindMarkRead:
		return MarkRead{ItemIDs: items}, nil
	case KindMarkUnread:
		return MarkUnread{CurrentLabelID: data1, ItemIDs: items}, nil
	case KindDelete:
		d := Delete{ItemIDs: items}
		if data1 != "" {
			label := data1
			d.CurrentLabelID = &label
		}
		return d, nil
	case KindEmptyTrash:
		return EmptyTrash{}, nil
	case KindEmptySpam:
		return EmptySpam{}, nil
	case KindEmptyFolder:
		return EmptyFolder{CurrentLabelID: data1}, nil
	case KindApplyLabel:
		return ApplyLabel{CurrentLabelID: data1, ItemIDs: items}, nil
	case KindRemoveLabel:
		return RemoveLabel{CurrentLabelID: data1, ItemIDs: items}, nil
	case KindMoveToFolder:
		return MoveToFolder{NextLabelID: data1, ItemIDs: items}, nil
	case KindUpdateLabel:
		return UpdateLabel{LabelID: messageID, Name: data1, Color: data2}, nil
	case KindCreateLabel:
		return CreateLabel{Name: data1, Color: data2}, nil
	case KindDeleteLabel:
		return DeleteLabel{LabelID: messageID}, nil
	case KindSignOut:
		return SignOut{}, nil
	case KindSignIn:
		return SignIn{}, nil
	case KindFetchDetail:
		return FetchDetail{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// EncodeTask serializes a task for the durable queue.
func EncodeTask(t Task) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTask deserializes a queue payload and stamps it with the element ID
// it was stored under.
func DecodeTask(id string, data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, err
	}
	t.ID = id
	return t, nil
}
