package enqueueform

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/theme"
)

// TaskBuiltMsg is dispatched when the form was submitted.
type TaskBuiltMsg struct {
	Task model.Task
}

// FormCancelMsg is dispatched when the user cancels the form.
type FormCancelMsg struct{}

// Values are the raw form fields. They are kept on the heap so huh's Value()
// pointers remain valid across Bubble Tea model copies.
type Values struct {
	OwnerID  string
	Kind     string
	EntityID string

	// ItemIDs is a comma separated list of UIDs.
	ItemIDs string

	// LabelID is the label or folder the action acts on, or moves into.
	LabelID string

	// Name is the new label name for createLabel and updateLabel.
	Name     string
	IsFolder bool
}

// kindOptions lists the kinds offered in the form, in display order.
var kindOptions = []model.ActionKind{
	model.KindSaveDraft,
	model.KindSend,
	model.KindMarkRead,
	model.KindMarkUnread,
	model.KindDelete,
	model.KindApplyLabel,
	model.KindRemoveLabel,
	model.KindMoveToFolder,
	model.KindEmptyTrash,
	model.KindEmptySpam,
	model.KindEmptyFolder,
	model.KindCreateLabel,
	model.KindUpdateLabel,
	model.KindDeleteLabel,
	model.KindFetchDetail,
	model.KindSignOut,
}

// Model is the Bubble Tea model of the enqueue form.
type Model struct {
	form     *huh.Form
	values   *Values
	accounts []model.AccountConfig
	width    int
	height   int
}

// New creates the form for the given accounts.
func New(accounts []model.AccountConfig, width, height int) Model {
	m := Model{
		values:   &Values{Kind: string(model.KindSaveDraft)},
		accounts: accounts,
		width:    width,
		height:   height,
	}
	if len(accounts) > 0 {
		m.values.OwnerID = accounts[0].ID
	}
	m.form = m.buildForm()
	return m
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the form.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		task, err := Build(*m.values)
		if err != nil {
			return m, func() tea.Msg { return FormCancelMsg{} }
		}
		return m, func() tea.Msg { return TaskBuiltMsg{Task: task} }
	case huh.StateAborted:
		return m, func() tea.Msg { return FormCancelMsg{} }
	}

	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render("Queue an action") + "\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

func (m *Model) buildForm() *huh.Form {
	owners := make([]huh.Option[string], len(m.accounts))
	for i, a := range m.accounts {
		owners[i] = huh.NewOption(fmt.Sprintf("%s (%s)", a.ID, a.Email), a.ID)
	}
	kinds := make([]huh.Option[string], len(kindOptions))
	for i, k := range kindOptions {
		kinds[i] = huh.NewOption(string(k), string(k))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Account").
				Options(owners...).
				Value(&m.values.OwnerID),
			huh.NewSelect[string]().
				Title("Action").
				Options(kinds...).
				Value(&m.values.Kind),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Entity").
				Placeholder("draft ID, conversation ID or UID").
				Value(&m.values.EntityID),
			huh.NewInput().
				Title("Items").
				Placeholder("comma separated UIDs").
				Value(&m.values.ItemIDs).
				Validate(validateUIDs),
			huh.NewInput().
				Title("Label / folder").
				Value(&m.values.LabelID),
			huh.NewInput().
				Title("New name").
				Value(&m.values.Name),
			huh.NewConfirm().
				Title("Is folder?").
				Value(&m.values.IsFolder),
		),
	).WithWidth(m.formWidth())
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

// Build turns form values into a task ready for AddTask.
func Build(v Values) (model.Task, error) {
	entity := strings.TrimSpace(v.EntityID)
	items := splitIDs(v.ItemIDs)
	if err := validateUIDs(v.ItemIDs); err != nil {
		return model.Task{}, err
	}

	var action model.Action
	switch model.ActionKind(v.Kind) {
	case model.KindSaveDraft:
		action = model.SaveDraft{MessageObjectID: entity}
	case model.KindSend:
		action = model.Send{MessageObjectID: entity}
	case model.KindMarkRead:
		action = model.MarkRead{ItemIDs: items}
	case model.KindMarkUnread:
		action = model.MarkUnread{CurrentLabelID: v.LabelID, ItemIDs: items}
	case model.KindDelete:
		d := model.Delete{ItemIDs: items}
		if v.LabelID != "" {
			label := v.LabelID
			d.CurrentLabelID = &label
		}
		action = d
	case model.KindApplyLabel:
		action = model.ApplyLabel{CurrentLabelID: v.LabelID, ItemIDs: items}
	case model.KindRemoveLabel:
		action = model.RemoveLabel{CurrentLabelID: v.LabelID, ItemIDs: items}
	case model.KindMoveToFolder:
		action = model.MoveToFolder{NextLabelID: v.LabelID, ItemIDs: items}
	case model.KindEmptyTrash:
		action = model.EmptyTrash{}
	case model.KindEmptySpam:
		action = model.EmptySpam{}
	case model.KindEmptyFolder:
		action = model.EmptyFolder{CurrentLabelID: v.LabelID}
	case model.KindCreateLabel:
		action = model.CreateLabel{Name: v.Name, IsFolder: v.IsFolder}
	case model.KindUpdateLabel:
		action = model.UpdateLabel{LabelID: v.LabelID, Name: v.Name}
	case model.KindDeleteLabel:
		action = model.DeleteLabel{LabelID: v.LabelID}
	case model.KindFetchDetail:
		action = model.FetchDetail{}
	case model.KindSignOut:
		action = model.SignOut{}
	default:
		return model.Task{}, fmt.Errorf("unsupported action %q", v.Kind)
	}

	task := model.NewTask(v.OwnerID, entity, action)
	if err := task.Validate(); err != nil {
		return model.Task{}, err
	}
	return task, nil
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateUIDs(s string) error {
	for _, id := range splitIDs(s) {
		if _, err := strconv.ParseUint(id, 10, 32); err != nil {
			return fmt.Errorf("%q is not a UID", id)
		}
	}
	return nil
}
