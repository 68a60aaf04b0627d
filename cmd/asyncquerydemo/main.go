// Command asyncquerydemo is an interactive REPL exercising the async query
// pipeline end to end: Pebble-backed storage, a background coordinator
// cycle, and live queries whose callbacks report each delivery and whose
// delivered rows the "rows" command prints. Grounded on the teacher's
// cmd/main.go and repl/repl.go: a readline.Instance with a PrefixCompleter,
// a command switch keyed on the first whitespace-separated token,
// "exit"/"quit" returning from main so the deferred store close runs.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/drpcorg/asyncquery/asyncquery"
	"github.com/drpcorg/asyncquery/changeset"
	"github.com/drpcorg/asyncquery/coordinator"
	"github.com/drpcorg/asyncquery/engine"
	"github.com/drpcorg/asyncquery/internal/logx"
	"github.com/drpcorg/asyncquery/rdx"
	"github.com/drpcorg/asyncquery/schema"
	"github.com/drpcorg/asyncquery/storage"
	"github.com/ergochat/readline"
	"github.com/google/uuid"
)

const peopleTable schema.TableID = 1

var completer = readline.NewPrefixCompleter(
	readline.PcItem("put"),
	readline.PcItem("watch"),
	readline.PcItem("tick"),
	readline.PcItem("rows"),
	readline.PcItem("help"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}

// demoSource implements coordinator.ChangeSource: a Snapshot taken fresh
// per cycle plus the row IDs the REPL's "put" commands touched since the
// last tick, bucketed under the one table this demo knows about.
type demoSource struct {
	store *storage.Store

	mu       sync.Mutex
	modified map[rdx.RowID]struct{}
}

func newDemoSource(store *storage.Store) *demoSource {
	return &demoSource{store: store, modified: make(map[rdx.RowID]struct{})}
}

func (d *demoSource) markModified(row rdx.RowID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modified[row] = struct{}{}
}

func (d *demoSource) Snapshot() engine.Snapshot { return d.store.Snapshot() }
func (d *demoSource) Executor() engine.Executor {
	return storage.NewExecutor(d.store, d.store.Snapshot())
}

func (d *demoSource) Changes() changeset.TableChanges {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.modified) == 0 {
		return nil
	}
	record := changeset.NewChangeRecord()
	for row := range d.modified {
		record.Modified[row] = struct{}{}
	}
	d.modified = make(map[rdx.RowID]struct{})
	return changeset.TableChanges{peopleTable: record}
}

// replTarget is the REPL's results handle, implementing asyncquery.Target:
// it is always alive and always wants background updates (there's no UI
// to poll it from), and keeps the freshly bound view for the "rows" command.
type replTarget struct {
	mu   sync.Mutex
	view engine.View
}

func (t *replTarget) Alive() bool                 { return true }
func (t *replTarget) WantsBackgroundUpdates() bool { return true }
func (t *replTarget) Rebind(v engine.View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.view = v
}

func (t *replTarget) rows() []engine.RowAt {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.view == nil {
		return nil
	}
	return t.view.Rows()
}

func encodeAge(age int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(age))
	return buf
}

func decodeAge(v []byte) int64 { return int64(binary.BigEndian.Uint64(v)) }

type demo struct {
	store     *storage.Store
	source    *demoSource
	scheduler *coordinator.Scheduler
	thread    uuid.UUID
	log       logx.Logger

	watches map[string]*watch
}

type watch struct {
	query  *asyncquery.Query
	target *replTarget
}

func (d *demo) cmdPut(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: put <seq> <age>")
	}
	seq, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return err
	}
	age, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}
	row := rdx.NewRowID(1, seq)
	if err := d.store.PutRow(peopleTable, row, encodeAge(age)); err != nil {
		return err
	}
	d.source.markModified(row)
	return nil
}

func (d *demo) cmdWatch(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: watch <name> <maxage>")
	}
	name := args[0]
	maxAge, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}
	snap := d.store.Snapshot()
	defer snap.Close()

	q := storage.Query{
		Table:   peopleTable,
		Match:   func(v []byte) bool { return decodeAge(v) < maxAge },
		SortKey: decodeAge,
	}
	packet, err := d.store.ExportQuery(q, snap)
	if err != nil {
		return err
	}
	target := &replTarget{}
	query := asyncquery.New(asyncquery.Config{
		Root:           peopleTable,
		Port:           d.store,
		Tables:         schema.StaticTables{peopleTable: {{Name: "age", Kind: schema.Plain}}},
		Links:          d.store,
		Log:            d.log,
		ConsumerThread: d.thread,
		Coordinator:    d.scheduler,
	}, target, packet, name)

	query.AddCallback(func(err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "watch %s: error: %v\n", name, err)
			return
		}
		fmt.Fprintf(os.Stdout, "watch %s: updated\n", name)
	})

	d.scheduler.Register(d.thread, query)
	d.watches[name] = &watch{query: query, target: target}
	return nil
}

func (d *demo) cmdTick() error {
	if err := d.scheduler.RunCycle(context.Background()); err != nil {
		return err
	}
	snap := d.store.Snapshot()
	defer snap.Close()
	d.scheduler.RunConsumer(snap, d.thread)
	return nil
}

func (d *demo) cmdRows(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rows <name>")
	}
	w, ok := d.watches[args[0]]
	if !ok {
		return fmt.Errorf("no such watch: %s", args[0])
	}
	for _, r := range w.target.rows() {
		fmt.Fprintf(os.Stdout, "  %s @ %d\n", r.Row.String(), r.Pos)
	}
	return nil
}

func main() {
	dir, err := os.MkdirTemp("", "asyncquerydemo-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	store, err := storage.Open(dir, schema.StaticTables{peopleTable: {{Name: "age", Kind: schema.Plain}}}, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	log := logx.New(slog.LevelInfo)
	source := newDemoSource(store)
	sched := coordinator.New(source, log)

	d := &demo{
		store:     store,
		source:    source,
		scheduler: sched,
		thread:    uuid.New(),
		log:       log,
		watches:   make(map[string]*watch),
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:              "◌ ",
		HistoryFile:         "/tmp/asyncquerydemo_history.txt",
		AutoComplete:        completer,
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rl.Close()
	rl.CaptureExitSignal()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		cmd := args[0]
		args = args[1:]

		switch cmd {
		case "put":
			err = d.cmdPut(args)
		case "watch":
			err = d.cmdWatch(args)
		case "tick":
			err = d.cmdTick()
		case "rows":
			err = d.cmdRows(args)
		case "help":
			fmt.Fprintln(os.Stdout, "commands: put <seq> <age>, watch <name> <maxage>, tick, rows <name>, exit")
		case "exit", "quit":
			return
		default:
			fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
