package enqueueform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-outbox/internal/model"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values Values
		want   model.Task
	}{
		{
			name:   "save draft uses the entity as message",
			values: Values{OwnerID: "work", Kind: "saveDraft", EntityID: " d1 "},
			want:   model.NewTask("work", "d1", model.SaveDraft{MessageObjectID: "d1"}),
		},
		{
			name:   "read splits items",
			values: Values{OwnerID: "work", Kind: "read", ItemIDs: "1, 2,,3"},
			want:   model.NewTask("work", "", model.MarkRead{ItemIDs: []string{"1", "2", "3"}}),
		},
		{
			name:   "move into folder",
			values: Values{OwnerID: "home", Kind: "folder", ItemIDs: "9", LabelID: "Archive"},
			want:   model.NewTask("home", "", model.MoveToFolder{NextLabelID: "Archive", ItemIDs: []string{"9"}}),
		},
		{
			name:   "create folder",
			values: Values{OwnerID: "home", Kind: "createLabel", Name: "Travel", IsFolder: true},
			want:   model.NewTask("home", "", model.CreateLabel{Name: "Travel", IsFolder: true}),
		},
		{
			name:   "sign out",
			values: Values{OwnerID: "home", Kind: "signout"},
			want:   model.NewTask("home", "", model.SignOut{}),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Build(tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildDeleteKeepsLabel(t *testing.T) {
	t.Parallel()

	got, err := Build(Values{OwnerID: "work", Kind: "delete", ItemIDs: "4", LabelID: "Trash"})
	require.NoError(t, err)
	d, ok := got.Action.(model.Delete)
	require.True(t, ok)
	require.NotNil(t, d.CurrentLabelID)
	assert.Equal(t, "Trash", *d.CurrentLabelID)

	got, err = Build(Values{OwnerID: "work", Kind: "delete", ItemIDs: "4"})
	require.NoError(t, err)
	assert.Nil(t, got.Action.(model.Delete).CurrentLabelID)
}

func TestBuildRejects(t *testing.T) {
	t.Parallel()

	for name, v := range map[string]Values{
		"bad uid":      {OwnerID: "work", Kind: "read", ItemIDs: "1,abc"},
		"no owner":     {Kind: "emptyTrash"},
		"draft no id":  {OwnerID: "work", Kind: "send"},
		"unknown kind": {OwnerID: "work", Kind: "archive"},
		"sign-in kind": {OwnerID: "work", Kind: "signin"},
	} {
		name, v := name, v
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(v)
			assert.Error(t, err)
		})
	}
}

func TestNewDefaultsToFirstAccount(t *testing.T) {
	t.Parallel()

	m := New([]model.AccountConfig{{ID: "work", Email: "w@example.com"}, {ID: "home"}}, 80, 24)
	assert.Equal(t, "work", m.values.OwnerID)
	assert.Contains(t, m.View(), "Queue an action")
}
