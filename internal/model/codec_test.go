package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRoundTrip(t *testing.T) {
	t.Parallel()

	label := "trash"
	fetch := true
	tests := []struct {
		name string
		task Task
	}{
		{"save draft", Task{EntityID: "m1", OwnerID: "u1", Action: SaveDraft{MessageObjectID: "obj-1"}}},
		{"send with dependency", Task{EntityID: "m1", OwnerID: "u1", Action: Send{MessageObjectID: "obj-1"}, DependencyIDs: []string{"t0"}}},
		{"delete with label", Task{OwnerID: "u1", Action: Delete{CurrentLabelID: &label, ItemIDs: []string{"a", "b"}}}},
		{"apply label", Task{OwnerID: "u1", Action: ApplyLabel{CurrentLabelID: "l1", ShouldFetch: &fetch, ItemIDs: []string{"a"}}, IsAggregate: true}},
		{"empty trash", Task{OwnerID: "u1", Action: EmptyTrash{}}},
		{"sign out", Task{OwnerID: "u1", Action: SignOut{}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := EncodeTask(tt.task)
			require.NoError(t, err)

			got, err := DecodeTask("elem-1", data)
			require.NoError(t, err)

			assert.Equal(t, "elem-1", got.ID)
			assert.Equal(t, tt.task.EntityID, got.EntityID)
			assert.Equal(t, tt.task.OwnerID, got.OwnerID)
			assert.Equal(t, tt.task.Action, got.Action)
			assert.Equal(t, tt.task.IsAggregate, got.IsAggregate)
			assert.ElementsMatch(t, tt.task.DependencyIDs, got.DependencyIDs)
		})
	}
}

func TestEncodeTaskShape(t *testing.T) {
	t.Parallel()

	data, err := EncodeTask(Task{ID: "ignored", EntityID: "m1", OwnerID: "u1", Action: Send{MessageObjectID: "o"}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.EqualValues(t, SchemaVersion, raw["version"])
	assert.NotContains(t, raw, "id")
	assert.Equal(t, []any{}, raw["dependency_ids"])
	assert.Equal(t, map[string]any{"send": map[string]any{"messageObjectID": "o"}}, raw["action"])
}

func TestEncodeTaskWithoutAction(t *testing.T) {
	t.Parallel()

	_, err := EncodeTask(Task{OwnerID: "u1"})
	require.ErrorIs(t, err, ErrInvalidTask)
}

func TestDecodeFlatRecord(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"uuid": "old-uuid",
		"messageID": "m9",
		"actionString": "moveToFolder",
		"userID": "u2",
		"dependencyIDs": ["d1"],
		"data1": "archive",
		"data2": "",
		"isConversation": true
	}`)

	got, err := DecodeTask("e9", data)
	require.NoError(t, err)

	assert.Equal(t, "e9", got.ID)
	assert.Equal(t, "m9", got.EntityID)
	assert.Equal(t, "u2", got.OwnerID)
	assert.Equal(t, []string{"d1"}, got.DependencyIDs)
	assert.True(t, got.IsAggregate)
	assert.Equal(t, MoveToFolder{NextLabelID: "archive", ItemIDs: []string{"m9"}}, got.Action)
}

func TestDecodeDictionaryRecord(t *testing.T) {
	t.Parallel()

	data := []byte(`{"id":"m3","action":"updateLabel","time":"1500000000","count":"0","data1":"Work","data2":"#ff0000","userId":"u3"}`)

	got, err := DecodeTask("e3", data)
	require.NoError(t, err)

	assert.Equal(t, "u3", got.OwnerID)
	assert.Empty(t, got.DependencyIDs)
	assert.Equal(t, UpdateLabel{LabelID: "m3", Name: "Work", Color: "#ff0000"}, got.Action)
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want error
	}{
		{"unknown kind", `{"version":2,"owner_id":"u","action":{"teleport":{}}}`, ErrUnknownAction},
		{"future version", `{"version":99,"owner_id":"u","action":{"send":{}}}`, ErrUnsupportedVersion},
		{"unknown legacy kind", `{"actionString":"teleport","userID":"u"}`, ErrUnknownAction},
		{"no schema", `{"hello":"world"}`, ErrUnrecognizedPayload},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeTask("x", []byte(tt.data))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseActionKindAliases(t *testing.T) {
	t.Parallel()

	k, ok := ParseActionKind("applyLabel")
	require.True(t, ok)
	assert.Equal(t, KindApplyLabel, k)

	_, ok = ParseActionKind("nope")
	assert.False(t, ok)
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewTask("u1", "m1", SaveDraft{}).Validate())
	assert.NoError(t, NewTask("u1", "", EmptySpam{}).Validate())

	assert.ErrorIs(t, NewTask("", "m1", SaveDraft{}).Validate(), ErrInvalidTask)
	assert.ErrorIs(t, NewTask("u1", "", Send{}).Validate(), ErrInvalidTask)
	assert.ErrorIs(t, Task{OwnerID: "u1"}.Validate(), ErrInvalidTask)
}

func TestTaskWithoutDependency(t *testing.T) {
	t.Parallel()

	orig := Task{DependencyIDs: []string{"a", "b"}}
	got := orig.WithoutDependency("a")

	assert.Equal(t, []string{"b"}, got.DependencyIDs)
	assert.Equal(t, []string{"a", "b"}, orig.DependencyIDs)
	assert.True(t, orig.DependsOn("a"))
	assert.False(t, got.DependsOn("a"))
}
