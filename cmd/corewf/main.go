// Entry point for the corewf CLI.
//
// Verbs:
//
//	run      start a definition and drain to quiescence
//	resume   reload the last snapshot and continue
//	status   print the persisted tree of the last snapshot
//	validate parse and build a definition without running it
//	inspect  run interactively in the terminal inspector
//	kinds    list the registered node kinds
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wforney/corewf-sub005/internal/config"
	"github.com/wforney/corewf-sub005/internal/definition"
	"github.com/wforney/corewf-sub005/internal/engine"
	"github.com/wforney/corewf-sub005/internal/expr"
	"github.com/wforney/corewf-sub005/internal/logging"
	"github.com/wforney/corewf-sub005/internal/telemetry"
	"github.com/wforney/corewf-sub005/internal/tui"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	verb, args := os.Args[1], os.Args[2:]
	switch verb {
	case "run":
		cmdRun(args)
	case "resume":
		cmdResume(args)
	case "status":
		cmdStatus(args)
	case "validate":
		cmdValidate(args)
	case "inspect":
		cmdInspect(args)
	case "kinds":
		for _, kind := range definition.Builtin().Kinds() {
			fmt.Println(kind)
		}
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "corewf: unknown verb %q\n\n", verb)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: corewf <verb> [flags]

verbs:
  run       start a definition and drain to quiescence
  resume    reload the last snapshot and continue
  status    print the persisted tree of the last snapshot
  validate  parse and build a definition without running it
  inspect   run interactively in the terminal inspector
  kinds     list the registered node kinds

common flags:
  -project dir      project directory (default: cwd)
  -definition file  definition file (default: from .corewf/config.yaml)
`)
}

type session struct {
	cfg    *config.Config
	def    *definition.Definition
	logger *logging.Logger
	repo   *engine.Repository
	opts   []engine.Option
	done   func()
}

func newFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	project := fs.String("project", "", "project directory (defaults to cwd)")
	defFile := fs.String("definition", "", "definition file")
	return fs, project, defFile
}

func openSession(project, defFile string) (*session, error) {
	dir := strings.TrimSpace(project)
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	if err := config.InitStateDir(dir); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.StateDirName, err)
	}
	cfg, err := config.New(dir)
	if err != nil {
		return nil, err
	}
	def, err := definition.Load(cfg.DefinitionPath(defFile))
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(dir)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:    cfg,
		def:    def,
		logger: logger,
		repo:   engine.NewRepository(cfg.StateDir(def.Name)),
		done:   func() { logger.Close() },
	}
	compiler, err := expr.NewGoCompilerSized(cfg.Project.Expressions.CacheLow, cfg.Project.Expressions.CacheHigh)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("expression cache: %w", err)
	}
	s.opts = []engine.Option{engine.WithStore(s.repo), engine.WithLogger(logger), engine.WithCompiler(compiler)}
	if cfg.Project.Telemetry.Enabled {
		observer, shutdown := telemetry.Setup("corewf")
		s.opts = append(s.opts, engine.WithObserver(observer))
		prev := s.done
		s.done = func() {
			_ = shutdown(context.Background())
			prev()
		}
	}
	return s, nil
}

func (s *session) newEngine() (*engine.Engine, error) {
	root, err := definition.Builtin().Build(s.def)
	if err != nil {
		return nil, err
	}
	return engine.New(root, s.opts...)
}

func cmdRun(args []string) {
	fs, project, defFile := newFlags("run")
	parse(fs, args)
	s, err := openSession(*project, *defFile)
	if err != nil {
		die("%v", err)
	}
	defer s.done()
	eng, err := s.newEngine()
	if err != nil {
		die("%v", err)
	}
	outcome, err := eng.Run()
	if err != nil {
		die("run: %v", err)
	}
	report(eng, outcome)
}

func cmdResume(args []string) {
	fs, project, defFile := newFlags("resume")
	inputs := keyValueFlag{}
	fs.Var(&inputs, "input", "deliver input after resume (bookmark=value, repeatable)")
	parse(fs, args)
	s, err := openSession(*project, *defFile)
	if err != nil {
		die("%v", err)
	}
	defer s.done()
	eng, err := s.newEngine()
	if err != nil {
		die("%v", err)
	}
	outcome, err := eng.Resume()
	if err != nil {
		die("resume: %v", err)
	}
	for _, kv := range inputs {
		outcome, err = eng.DeliverInput(kv.key, kv.value)
		if err != nil {
			die("deliver %s: %v", kv.key, err)
		}
	}
	report(eng, outcome)
}

func cmdStatus(args []string) {
	fs, project, defFile := newFlags("status")
	parse(fs, args)
	s, err := openSession(*project, *defFile)
	if err != nil {
		die("%v", err)
	}
	defer s.done()
	snap, err := s.repo.Load()
	if err != nil {
		die("load snapshot: %v", err)
	}
	eng, err := s.newEngine()
	if err != nil {
		die("%v", err)
	}
	if err := eng.Restore(snap); err != nil {
		die("restore: %v", err)
	}
	fmt.Printf("run %s · %s · taken %s\n", snap.RunID, snap.Status, snap.TakenAt.Format("2006-01-02 15:04:05"))
	printTree(eng)
}

func cmdValidate(args []string) {
	fs, project, defFile := newFlags("validate")
	parse(fs, args)
	s, err := openSession(*project, *defFile)
	if err != nil {
		die("%v", err)
	}
	defer s.done()
	if _, err := definition.Builtin().Build(s.def); err != nil {
		die("%v", err)
	}
	fmt.Printf("%s: ok\n", s.def.Name)
}

func cmdInspect(args []string) {
	fs, project, defFile := newFlags("inspect")
	parse(fs, args)
	s, err := openSession(*project, *defFile)
	if err != nil {
		die("%v", err)
	}
	defer s.done()
	eng, err := s.newEngine()
	if err != nil {
		die("%v", err)
	}
	if err := tui.Run(eng); err != nil {
		die("inspector: %v", err)
	}
}

func report(eng *engine.Engine, outcome engine.Outcome) {
	fmt.Printf("run %s: %s\n", eng.RunID(), outcome.Status)
	if outcome.Fault != nil {
		fmt.Printf("fault: %v\n", outcome.Fault)
	}
	if bookmarks := eng.Bookmarks(); len(bookmarks) > 0 {
		fmt.Printf("waiting on: %s\n", strings.Join(bookmarks, ", "))
	}
	printTree(eng)
	if outcome.Status == engine.StatusFaulted {
		os.Exit(1)
	}
}

func printTree(eng *engine.Engine) {
	for _, view := range eng.Instances() {
		indent := strings.Repeat("  ", view.Depth)
		line := fmt.Sprintf("%s%s [%s]", indent, view.Activity, view.Substate)
		if view.Bookmark != "" {
			line += " awaiting " + view.Bookmark
		}
		if view.Error != "" {
			line += " " + view.Error
		}
		fmt.Println(line)
	}
}

func parse(fs *flag.FlagSet, args []string) {
	// ExitOnError makes a failed parse terminate the process.
	_ = fs.Parse(args)
}

type keyValue struct {
	key   string
	value string
}

type keyValueFlag []keyValue

func (f *keyValueFlag) String() string {
	parts := make([]string, 0, len(*f))
	for _, kv := range *f {
		parts = append(parts, kv.key+"="+kv.value)
	}
	return strings.Join(parts, ",")
}

func (f *keyValueFlag) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected bookmark=value, got %q", raw)
	}
	*f = append(*f, keyValue{key: key, value: value})
	return nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "corewf: "+format+"\n", args...)
	os.Exit(1)
}
