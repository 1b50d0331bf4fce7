package model

// ActionKind is the stable, persisted name of a mutation kind. The string
// values are part of the on-disk schema and must never change.
type ActionKind string

const (
	KindSaveDraft          ActionKind = "saveDraft"
	KindUploadAttachment   ActionKind = "uploadAtt"
	KindUploadPublicKey    ActionKind = "uploadPubkey"
	KindDeleteAttachment   ActionKind = "deleteAtt"
	KindUpdateAttKeyPacket ActionKind = "updateAttKeyPacket"
	KindSend               ActionKind = "send"
	KindMarkRead           ActionKind = "read"
	KindMarkUnread         ActionKind = "unread"
	KindDelete             ActionKind = "delete"
	KindEmptyTrash         ActionKind = "emptyTrash"
	KindEmptySpam          ActionKind = "emptySpam"
	KindEmptyFolder        ActionKind = "empty"
	KindApplyLabel         ActionKind = "label"
	KindRemoveLabel        ActionKind = "unlabel"
	KindMoveToFolder       ActionKind = "folder"
	KindUpdateLabel        ActionKind = "updateLabel"
	KindCreateLabel        ActionKind = "createLabel"
	KindDeleteLabel        ActionKind = "deleteLabel"
	KindSignOut            ActionKind = "signout"
	KindSignIn             ActionKind = "signin"
	KindFetchDetail        ActionKind = "fetchMessageDetail"
)

// legacyKindAliases maps kind names written by older releases onto the
// current names.
var legacyKindAliases = map[string]ActionKind{
	"applyLabel":   KindApplyLabel,
	"unapplyLabel": KindRemoveLabel,
	"moveToFolder": KindMoveToFolder,
}

// Family groups kinds whose queued instances on the same entity can be
// coalesced when one of them is dropped.
type Family string

const (
	FamilyDraft   Family = "draft"
	FamilyRead    Family = "read"
	FamilyMailbox Family = "mailbox"
	FamilyLabel   Family = "label"
	FamilySession Family = "session"
	FamilyFetch   Family = "fetch"
)

var kindFamilies = map[ActionKind]Family{
	KindSaveDraft:          FamilyDraft,
	KindUploadAttachment:   FamilyDraft,
	KindUploadPublicKey:    FamilyDraft,
	KindDeleteAttachment:   FamilyDraft,
	KindUpdateAttKeyPacket: FamilyDraft,
	KindSend:               FamilyDraft,
	KindMarkRead:           FamilyRead,
	KindMarkUnread:         FamilyRead,
	KindDelete:             FamilyMailbox,
	KindEmptyTrash:         FamilyMailbox,
	KindEmptySpam:          FamilyMailbox,
	KindEmptyFolder:        FamilyMailbox,
	KindApplyLabel:         FamilyMailbox,
	KindRemoveLabel:        FamilyMailbox,
	KindMoveToFolder:       FamilyMailbox,
	KindUpdateLabel:        FamilyLabel,
	KindCreateLabel:        FamilyLabel,
	KindDeleteLabel:        FamilyLabel,
	KindSignOut:            FamilySession,
	KindSignIn:             FamilySession,
	KindFetchDetail:        FamilyFetch,
}

// Family returns the coalescing family of the kind, or "" for unknown kinds.
func (k ActionKind) Family() Family {
	return kindFamilies[k]
}

// Known reports whether k is one of the kinds this release understands.
func (k ActionKind) Known() bool {
	_, ok := kindFamilies[k]
	return ok
}

// EntityScoped reports whether tasks of this kind mutate one addressable
// entity (a draft) and therefore need an entity ID.
func (k ActionKind) EntityScoped() bool {
	switch k {
	case KindSaveDraft, KindUploadAttachment, KindUploadPublicKey,
		KindDeleteAttachment, KindUpdateAttKeyPacket, KindSend:
		return true
	}
	return false
}

// Action is the sealed set of mutations a Task can carry. Each variant holds
// only what is needed to retry the mutation on its own.
type Action interface {
	Kind() ActionKind
	isAction()
}

// SaveDraft uploads the current local state of a draft.
type SaveDraft struct {
	MessageObjectID string `json:"messageObjectID"`
}

// UploadAttachment uploads one attachment of a draft.
type UploadAttachment struct {
	AttachmentObjectID string `json:"attachmentObjectID"`
}

// UploadPublicKey attaches the sender's public key to a draft.
type UploadPublicKey struct {
	AttachmentObjectID string `json:"attachmentObjectID"`
}

// DeleteAttachment removes one attachment from a draft.
type DeleteAttachment struct {
	AttachmentObjectID string `json:"attachmentObjectID"`
}

// UpdateAttKeyPacket re-encrypts attachment key packets after the sender
// address of a draft changed.
type UpdateAttKeyPacket struct {
	MessageObjectID string `json:"messageObjectID"`
	AddressID       string `json:"addressID"`
}

// Send submits a draft for delivery.
type Send struct {
	MessageObjectID string `json:"messageObjectID"`
}

// MarkRead marks items as read.
type MarkRead struct {
	ItemIDs   []string `json:"itemIDs"`
	ObjectIDs []string `json:"objectIDs"`
}

// MarkUnread marks items as unread in the given label.
type MarkUnread struct {
	CurrentLabelID string   `json:"currentLabelID"`
	ItemIDs        []string `json:"itemIDs"`
	ObjectIDs      []string `json:"objectIDs"`
}

// Delete permanently deletes items. CurrentLabelID is nil when the caller did
// not know the originating label.
type Delete struct {
	CurrentLabelID *string  `json:"currentLabelID"`
	ItemIDs        []string `json:"itemIDs"`
}

// EmptyTrash purges the trash folder.
type EmptyTrash struct{}

// EmptySpam purges the spam folder.
type EmptySpam struct{}

// EmptyFolder purges an arbitrary folder.
type EmptyFolder struct {
	CurrentLabelID string `json:"currentLabelID"`
}

// ApplyLabel adds a label to items.
type ApplyLabel struct {
	CurrentLabelID string   `json:"currentLabelID"`
	ShouldFetch    *bool    `json:"shouldFetch"`
	ItemIDs        []string `json:"itemIDs"`
	ObjectIDs      []string `json:"objectIDs"`
}

// RemoveLabel removes a label from items.
type RemoveLabel struct {
	CurrentLabelID string   `json:"currentLabelID"`
	ShouldFetch    *bool    `json:"shouldFetch"`
	ItemIDs        []string `json:"itemIDs"`
	ObjectIDs      []string `json:"objectIDs"`
}

// MoveToFolder moves items into another folder.
type MoveToFolder struct {
	NextLabelID string   `json:"nextLabelID"`
	ItemIDs     []string `json:"itemIDs"`
	ObjectIDs   []string `json:"objectIDs"`
}

// UpdateLabel renames or recolors a label.
type UpdateLabel struct {
	LabelID string `json:"labelID"`
	Name    string `json:"name"`
	Color   string `json:"color"`
}

// CreateLabel creates a label or folder.
type CreateLabel struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	IsFolder bool   `json:"isFolder"`
}

// DeleteLabel deletes a label or folder.
type DeleteLabel struct {
	LabelID string `json:"labelID"`
}

// SignOut ends the account session and cancels its pending work.
type SignOut struct{}

// SignIn resets the account's queued state.
type SignIn struct{}

// FetchDetail fetches the full body of a message.
type FetchDetail struct{}

func (SaveDraft) Kind() ActionKind          { return KindSaveDraft }
func (UploadAttachment) Kind() ActionKind   { return KindUploadAttachment }
func (UploadPublicKey) Kind() ActionKind    { return KindUploadPublicKey }
func (DeleteAttachment) Kind() ActionKind   { return KindDeleteAttachment }
func (UpdateAttKeyPacket) Kind() ActionKind { return KindUpdateAttKeyPacket }
func (Send) Kind() ActionKind               { return KindSend }
func (MarkRead) Kind() ActionKind           { return KindMarkRead }
func (MarkUnread) Kind() ActionKind         { return KindMarkUnread }
func (Delete) Kind() ActionKind             { return KindDelete }
func (EmptyTrash) Kind() ActionKind         { return KindEmptyTrash }
func (EmptySpam) Kind() ActionKind          { return KindEmptySpam }
func (EmptyFolder) Kind() ActionKind        { return KindEmptyFolder }
func (ApplyLabel) Kind() ActionKind         { return KindApplyLabel }
func (RemoveLabel) Kind() ActionKind        { return KindRemoveLabel }
func (MoveToFolder) Kind() ActionKind       { return KindMoveToFolder }
func (UpdateLabel) Kind() ActionKind        { return KindUpdateLabel }
func (CreateLabel) Kind() ActionKind        { return KindCreateLabel }
func (DeleteLabel) Kind() ActionKind        { return KindDeleteLabel }
func (SignOut) Kind() ActionKind            { return KindSignOut }
func (SignIn) Kind() ActionKind             { return KindSignIn }
func (FetchDetail) Kind() ActionKind        { return KindFetchDetail }

func (SaveDraft) isAction()          {}
func (UploadAttachment) isAction()   {}
func (UploadPublicKey) isAction()    {}
func (DeleteAttachment) isAction()   {}
func (UpdateAttKeyPacket) isAction() {}
func (Send) isAction()               {}
func (MarkRead) isAction()           {}
func (MarkUnread) isAction()         {}
func (Delete) isAction()             {}
func (EmptyTrash) isAction()         {}
func (EmptySpam) isAction()          {}
func (EmptyFolder) isAction()        {}
func (ApplyLabel) isAction()         {}
func (RemoveLabel) isAction()        {}
func (MoveToFolder) isAction()       {}
func (UpdateLabel) isAction()        {}
func (CreateLabel) isAction()        {}
func (DeleteLabel) isAction()        {}
func (SignOut) isAction()            {}
func (SignIn) isAction()             {}
func (FetchDetail) isAction()        {}

// newAction returns a zero value of the variant for kind, ready to be
// unmarshaled into.
func newAction(kind ActionKind) (Action, bool) {
	switch kind {
	case KindSaveDraft:
		return &SaveDraft{}, true
	case KindUploadAttachment:
		return &UploadAttachment{}, true
	case KindUploadPublicKey:
		return &UploadPublicKey{}, true
	case KindDeleteAttachment:
		return &DeleteAttachment{}, true
	case KindUpdateAttKeyPacket:
		return &UpdateAttKeyPacket{}, true
	case KindSend:
		return &Send{}, true
	case KindMarkRead:
		return &MarkRead{}, true
	case KindMarkUnread:
		return &MarkUnread{}, true
	case KindDelete:
		return &Delete{}, true
	case KindEmptyTrash:
		return &EmptyTrash{}, true
	case KindEmptySpam:
		return &EmptySpam{}, true
	case KindEmptyFolder:
		return &EmptyFolder{}, true
	case KindApplyLabel:
		return &ApplyLabel{}, true
	case KindRemoveLabel:
		return &RemoveLabel{}, true
	case KindMoveToFolder:
		return &MoveToFolder{}, true
	case KindUpdateLabel:
		return &UpdateLabel{}, true
	case KindCreateLabel:
		return &CreateLabel{}, true
	case KindDeleteLabel:
		return &DeleteLabel{}, true
	case KindSignOut:
		return &SignOut{}, true
	case KindSignIn:
		return &SignIn{}, true
	case KindFetchDetail:
		return &FetchDetail{}, true
	}
	return nil, false
}

// deref turns the pointer produced by newAction back into the value variant
// so callers can type-switch on value types only.
func deref(a Action) Action {
	switch v := a.(type) {
	case *SaveDraft:
		return *v
	case *UploadAttachment:
		return *v
	case *UploadPublicKey:
		return *v
	case *DeleteAttachment:
		return *v
	case *UpdateAttKeyPacket:
		return *v
	case *Send:
		return *v
	case *MarkRead:
		return *v
	case *MarkUnread:
		return *v
	case *Delete:
		return *v
	case *EmptyTrash:
		return *v
	case *EmptySpam:
		return *v
	case *EmptyFolder:
		return *v
	case *ApplyLabel:
		return *v
	case *RemoveLabel:
		return *v
	case *MoveToFolder:
		return *v
	case *UpdateLabel:
		return *v
	case *CreateLabel:
		return *v
	case *DeleteLabel:
		return *v
	case *SignOut:
		return *v
	case *SignIn:
		return *v
	case *FetchDetail:
		return *v
	}
	return a
}
