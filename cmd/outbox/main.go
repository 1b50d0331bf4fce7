// Command outbox inspects and drives the offline mail outbox.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhle/mail-outbox/internal/app"
	"github.com/nhle/mail-outbox/internal/credential"
	"github.com/nhle/mail-outbox/internal/keys"
	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/outbox"
	"github.com/nhle/mail-outbox/internal/remote/email"
	"github.com/nhle/mail-outbox/internal/theme"
	"github.com/nhle/mail-outbox/internal/ui/enqueueform"
	"github.com/nhle/mail-outbox/internal/ui/outboxview"
)

const usage = `usage: outbox [-config path] <command> [flags]

commands:
  status    list queued tasks
  watch     interactive status view
  drain     run one drain cycle now
  enqueue   queue an action
  signout   sign an account out and cancel its pending work
  signin    reset an account's queued state
  login     store an account password and verify it
  clear     remove queued tasks
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "outbox:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("outbox", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", model.DefaultConfigPath(), "configuration file")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := credential.Open(filepath.Join(filepath.Dir(*configPath), "credentials"))
	if err != nil {
		return err
	}

	cmd, cmdArgs := global.Arg(0), global.Args()[1:]
	if cmd == "login" {
		return login(ctx, cfg, creds, cmdArgs, stdout, stderr)
	}

	a, err := app.New(ctx, cfg, creds, app.WithLogger(logger))
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "status":
		return status(ctx, a, cmdArgs, stdout, stderr)
	case "watch":
		if addr := cfg.Metrics.Listen; addr != "" {
			defer serveMetrics(a, addr, logger)()
		}
		return watch(a)
	case "drain":
		return drain(ctx, a, cmdArgs, stdout, stderr)
	case "enqueue":
		return enqueue(ctx, a, cmdArgs, stdout, stderr)
	case "signout":
		return session(ctx, a, "signout", cmdArgs, stdout, stderr)
	case "signin":
		return session(ctx, a, "signin", cmdArgs, stdout, stderr)
	case "clear":
		return clearQueues(ctx, a, cmdArgs, stdout, stderr)
	}

	global.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func status(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tasks := a.Coordinator.Tasks(ctx)
	stalled := map[string]bool{}
	for _, t := range a.Coordinator.Stalled(ctx) {
		stalled[t.ID] = true
	}

	if *asJSON {
		type row struct {
			ID       string   `json:"id"`
			Queue    string   `json:"queue"`
			Action   string   `json:"action"`
			OwnerID  string   `json:"owner_id"`
			EntityID string   `json:"entity_id,omitempty"`
			Deps     []string `json:"dependency_ids,omitempty"`
			Runnable bool     `json:"runnable"`
			Stalled  bool     `json:"stalled"`
		}
		rows := make([]row, 0, len(tasks))
		for _, qt := range tasks {
			rows = append(rows, row{
				ID:       qt.Task.ID,
				Queue:    qt.Queue,
				Action:   string(qt.Task.Kind()),
				OwnerID:  qt.Task.OwnerID,
				EntityID: qt.Task.EntityID,
				Deps:     qt.Task.DependencyIDs,
				Runnable: qt.Runnable,
				Stalled:  stalled[qt.Task.ID],
			})
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(tasks) == 0 {
		fmt.Fprintln(stdout, "All changes are synced.")
		return nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers("QUEUE", "ACTION", "OWNER", "ENTITY", "STATE", "DEPS")
	for _, qt := range tasks {
		state := "waiting"
		switch {
		case stalled[qt.Task.ID]:
			state = "stalled"
		case qt.Runnable:
			state = "runnable"
		}
		t.Row(qt.Queue, string(qt.Task.Kind()), qt.Task.OwnerID, qt.Task.EntityID,
			theme.StateStyle(state).Render(state), strings.Join(qt.Task.DependencyIDs, ","))
	}
	fmt.Fprintln(stdout, t.Render())

	entity, globalCount := a.Coordinator.Counts()
	fmt.Fprintf(stdout, "%d entity, %d global\n", entity, globalCount)
	return nil
}

func watch(a *app.App) error {
	view := outboxview.New(a.Coordinator, keys.DefaultKeyMap(), a.Config.Drain.Budget, 100, 30)
	_, err := tea.NewProgram(view, tea.WithAltScreen()).Run()
	return err
}

// serveMetrics exposes the app's registry on addr and returns a function
// that shuts the server down.
func serveMetrics(a *app.App, addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("addr", addr), slog.Any("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func drain(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("drain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	budget := fs.Duration("budget", a.Config.Drain.Budget, "time budget; 0 means unbounded")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var remaining func() time.Duration
	if *budget > 0 {
		remaining = outbox.Deadline(time.Now().Add(*budget))
	}
	report := a.Coordinator.Drain(ctx, remaining)
	printReport(stdout, report)
	return report.Err
}

func printReport(w io.Writer, r outbox.Report) {
	switch {
	case r.HumanCheck:
		fmt.Fprintln(w, "skipped: dispatch is paused")
		return
	case r.Offline:
		fmt.Fprintln(w, "skipped: offline")
		return
	}
	fmt.Fprintf(w, "dispatched %d, removed %d, failed %d\n", r.Dispatched, r.Removed, r.Failed)
	if r.Paused {
		fmt.Fprintln(w, "paused: budget exhausted, work remains")
	}
}

func enqueue(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	interactive := fs.Bool("i", false, "build the action in a form")
	runNow := fs.Bool("run", false, "drain right after queueing")
	var v enqueueform.Values
	fs.StringVar(&v.OwnerID, "owner", "", "account ID")
	fs.StringVar(&v.Kind, "kind", "", "action kind")
	fs.StringVar(&v.EntityID, "entity", "", "entity ID")
	fs.StringVar(&v.ItemIDs, "items", "", "comma separated UIDs")
	fs.StringVar(&v.LabelID, "label", "", "label or folder")
	fs.StringVar(&v.Name, "name", "", "new label name")
	fs.BoolVar(&v.IsFolder, "folder", false, "create a folder rather than a label")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var task model.Task
	if *interactive {
		built, err := runForm(a.Config.Accounts)
		if err != nil {
			return err
		}
		task = built
	} else {
		built, err := enqueueform.Build(v)
		if err != nil {
			return err
		}
		task = built
	}

	id, err := a.Coordinator.AddTask(ctx, task, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "queued %s %s\n", task.Kind(), id)

	if *runNow {
		printReport(stdout, a.Coordinator.Drain(ctx, nil))
	}
	return nil
}

// formResult captures the enqueue form's outcome as the root program model.
type formResult struct {
	form enqueueform.Model
	task *model.Task
}

func (f formResult) Init() tea.Cmd { return f.form.Init() }

func (f formResult) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case enqueueform.TaskBuiltMsg:
		f.task = &msg.Task
		return f, tea.Quit
	case enqueueform.FormCancelMsg:
		return f, tea.Quit
	}
	next, cmd := f.form.Update(msg)
	f.form = next.(enqueueform.Model)
	return f, cmd
}

func (f formResult) View() string { return f.form.View() }

func runForm(accounts []model.AccountConfig) (model.Task, error) {
	final, err := tea.NewProgram(formResult{form: enqueueform.New(accounts, 80, 24)}).Run()
	if err != nil {
		return model.Task{}, err
	}
	res := final.(formResult)
	if res.task == nil {
		return model.Task{}, errors.New("cancelled")
	}
	return *res.task, nil
}

func session(ctx context.Context, a *app.App, kind string, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(kind, flag.ContinueOnError)
	fs.SetOutput(stderr)
	owner := fs.String("owner", "", "account ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return applySession(ctx, a.Coordinator, kind, *owner, stdout)
}

// applySession queues a sign-in or sign-out for owner. A sign-out is drained
// before returning so the caller can close the app without cutting it off.
func applySession(ctx context.Context, c *outbox.Coordinator, kind, owner string, stdout io.Writer) error {
	var action model.Action = model.SignOut{}
	if kind == "signin" {
		action = model.SignIn{}
	}
	id, err := c.AddTask(ctx, model.NewTask(owner, "", action), false)
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintf(stdout, "%s applied\n", kind)
		return nil
	}
	fmt.Fprintf(stdout, "%s queued %s\n", kind, id)

	if kind != "signout" {
		return nil
	}
	report := c.Drain(ctx, nil)
	printReport(stdout, report)
	return report.Err
}

func clearQueues(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	fs.SetOutput(stderr)
	owner := fs.String("owner", "", "only this account's tasks")
	entity := fs.String("entity", "", "only this entity's tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *entity != "":
		n, err := a.Coordinator.RemoveAllTasks(ctx, *entity, func(model.Action) bool { return true })
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "removed %d task(s) for %s\n", n, *entity)
	case *owner != "":
		n, err := a.Coordinator.DeleteAllQueuedMessage(ctx, *owner)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "removed %d task(s) of %s\n", n, *owner)
	default:
		if err := a.Coordinator.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "cleared both queues")
	}
	return nil
}

func login(ctx context.Context, cfg *model.AppConfig, creds *credential.Store, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	accountID := fs.String("account", "", "account ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	account, ok := cfg.Account(*accountID)
	if !ok {
		return fmt.Errorf("no account %q in config", *accountID)
	}

	var password string
	err := huh.NewInput().
		Title(fmt.Sprintf("Password for %s", account.Email)).
		EchoMode(huh.EchoModePassword).
		Value(&password).
		Run()
	if err != nil {
		return err
	}

	client := email.NewIMAPClient(account.IMAPHost, account.IMAPPort, account.Email, password, account.TLS)
	if err := client.Verify(ctx); err != nil {
		return fmt.Errorf("verifying %s: %w", account.Email, err)
	}
	if err := creds.SetPassword(account.ID, password); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "logged in as %s\n", account.Email)
	return nil
}
