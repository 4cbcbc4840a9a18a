// Command fbc compiles FasterBASIC source into the QBE-style textual IL
// internal/codegen emits, driving the frontend → CFG → codegen → (optional)
// JIT-collector pipeline described by SPEC_FULL.md §6's CLI surface.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unsafe"

	"github.com/fasterbasic/fbc/internal/backendir"
	"github.com/fasterbasic/fbc/internal/codegen"
	"github.com/fasterbasic/fbc/internal/frontend"
	"github.com/fasterbasic/fbc/internal/jit"
	"github.com/fasterbasic/fbc/internal/samm"
	"github.com/fasterbasic/fbc/internal/slab"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var log = logrus.WithField("component", "fbc")

type options struct {
	output     string
	compileOnly bool
	run        bool
	emitQBE    bool
	emitAsm    bool
	verbose    bool
	traceAST   bool
	traceCFG   bool
	profile    bool
	keepTemps  bool
	enableMadd bool
	disableMadd bool
	target     string
}

func parseFlags() (options, []string) {
	var o options
	pflag.StringVarP(&o.output, "output", "o", "", "write IL output to file instead of stdout")
	pflag.BoolVarP(&o.compileOnly, "compile-only", "c", false, "compile only, never run the result")
	pflag.BoolVar(&o.run, "run", false, "assemble and execute the compiled program")
	pflag.BoolVar(&o.emitQBE, "emit-qbe", false, "print the generated QBE-style IL to stdout")
	pflag.BoolVar(&o.emitAsm, "emit-asm", false, "print a disassembly of a JIT-collected smoke test")
	pflag.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging and the SAMM/slab self-check")
	pflag.BoolVar(&o.traceAST, "trace-ast", false, "log each statement as the AST emitter lowers it")
	pflag.BoolVar(&o.traceCFG, "trace-cfg", false, "log each phase of CFG construction and emission")
	pflag.BoolVar(&o.profile, "profile", false, "log wall-clock duration of each compile phase")
	pflag.BoolVar(&o.keepTemps, "keep-temps", false, "keep --run's temporary files instead of removing them")
	pflag.BoolVar(&o.enableMadd, "enable-madd-fusion", false, "force the MUL+ADD/SUB JIT fusion on")
	pflag.BoolVar(&o.disableMadd, "disable-madd-fusion", false, "force the MUL+ADD/SUB JIT fusion off")
	pflag.StringVar(&o.target, "target", "", "target triple os/arch (informational; IL is target-generic)")
	pflag.Parse()
	return o, pflag.Args()
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	opts, files := parseFlags()
	if opts.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [-o file] [-c] [--run] [--emit-qbe] [--emit-asm] [flags] <file.bas ...>\n", os.Args[0])
		os.Exit(1)
	}

	if opts.verbose {
		runSelfCheck()
	}

	phase := newPhaseTimer(opts.profile)

	source, err := readSources(files)
	if err != nil {
		log.Error(errors.Wrap(err, "reading input"))
		os.Exit(1)
	}
	phase.mark("read input")

	reader := frontend.NewReader(source)
	prog := reader.Read()
	phase.mark("parse")
	if errs := reader.Errors(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "%s: %s\n", files[0], e)
		}
		log.WithField("count", len(errs)).Error("compilation errors, aborting before codegen")
		os.Exit(1)
	}

	fusion := jit.DefaultFusionConfig()
	if opts.enableMadd {
		fusion.MaddMsub = true
	}
	if opts.disableMadd {
		fusion.MaddMsub = false
	}

	unit := codegen.NewUnit(true, 0)
	unit.Trace = opts.traceAST || opts.traceCFG || opts.verbose

	il := unit.Compile(prog)
	phase.mark("codegen")

	for _, d := range unit.Diagnostics {
		log.WithField("block", d.Block).Warn(d.Message)
	}

	if err := writeOutput(opts, il); err != nil {
		log.Error(errors.Wrap(err, "writing output"))
		os.Exit(1)
	}
	phase.mark("write output")

	if opts.emitQBE && opts.output != "" {
		fmt.Println(il)
	}

	if opts.emitAsm {
		printAsmSmokeTest(fusion)
		phase.mark("emit-asm")
	}

	if opts.run && !opts.compileOnly {
		if err := runCompiled(opts, il); err != nil {
			log.Error(err)
			os.Exit(1)
		}
		phase.mark("run")
	}
}

// readSources concatenates every entry file's contents in argument order —
// FasterBASIC programs share one line-number/label namespace across a
// compilation unit, unlike the teacher's per-package Go sources.
func readSources(files []string) (string, error) {
	var sb strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", errors.Wrapf(err, "reading %s", f)
		}
		sb.Write(data)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func writeOutput(opts options, il string) error {
	if opts.output == "" {
		fmt.Println(il)
		return nil
	}
	return os.WriteFile(opts.output, []byte(il), 0644)
}

// runSelfCheck exercises a real internal/samm.Manager backed by a real
// internal/slab.Pool through one scope's worth of track/exit — a startup
// smoke test proving the runtime memory model SPEC_FULL.md §5 describes is
// wired and functioning, never something the compile pipeline itself calls.
func runSelfCheck() {
	pool, err := slab.NewPool(32, 64, "fbc-selfcheck")
	if err != nil {
		log.Warn(errors.Wrap(err, "self-check: slab pool"))
		return
	}
	defer pool.Destroy()

	var freed int
	mgr := samm.New(func(ptr unsafe.Pointer, class samm.Class, sizeClass int) {
		freed++
		pool.Free(unsafe.Slice((*byte)(ptr), 32))
	})
	mgr.EnterScope()
	slot := pool.Alloc()
	mgr.Track(unsafe.Pointer(&slot[0]), samm.ClassStringDescriptor, 0)
	mgr.ExitScope()
	mgr.Shutdown()

	log.WithField("freed", freed).WithField("pool_stats", pool.Stats()).Debug("self-check complete")
}

// printAsmSmokeTest runs a tiny synthetic backendir.FuncIR through
// jit.Collector and internal/jit's placeholder disassembler — there is no
// real register-allocated IR to collect from a compiled program (the
// register allocator and machine-code encoder are out of scope per
// spec.md §1), so --emit-asm demonstrates the collector/disassembler
// pipeline rather than disassembling the program just compiled.
func printAsmSmokeTest(fusion jit.FusionConfig) {
	fn := &backendir.FuncIR{
		Name:      "smoke",
		FrameSize: 16,
		Blocks: []*backendir.Block{{
			ID:    0,
			Label: "entry",
			Instrs: []backendir.Instr{
				{Op: backendir.OpMovImm, Rd: 0, Imm: 1},
				{Op: backendir.OpRet, Rn: backendir.RegLR},
			},
		}},
	}
	c := jit.NewCollector(fusion)
	insts, err := c.Collect(fn)
	if err != nil {
		log.Error(errors.Wrap(err, "emit-asm: collecting smoke test"))
		return
	}
	lines, err := jit.Disassemble(insts)
	if err != nil {
		log.Error(errors.Wrap(err, "emit-asm: disassembling smoke test"))
		return
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	fmt.Print(c.PrintHistogram())
}

// runCompiled shells out to an external qbe+cc pipeline, if one is on
// PATH, to turn il into a native binary and execute it — mirroring the
// teacher's own -run mode (temp files, cleanup, exit-code passthrough),
// since this module's own scope stops at the JIT instruction stream.
func runCompiled(opts options, il string) error {
	qbePath, err := exec.LookPath("qbe")
	if err != nil {
		return errors.New("--run requires a `qbe` binary on PATH to assemble the generated IL; none found")
	}
	ccPath, err := exec.LookPath("cc")
	if err != nil {
		return errors.New("--run requires a C compiler (`cc`) on PATH to link qbe's assembly output; none found")
	}

	tmpDir, err := os.MkdirTemp("", "fbc-run-")
	if err != nil {
		return errors.Wrap(err, "creating temp directory")
	}
	if opts.keepTemps {
		log.WithField("dir", tmpDir).Info("--keep-temps: temp directory preserved")
	} else {
		defer os.RemoveAll(tmpDir)
	}

	ilPath := tmpDir + "/out.qbe"
	if err := os.WriteFile(ilPath, []byte(il), 0644); err != nil {
		return errors.Wrap(err, "writing IL temp file")
	}

	asmPath := tmpDir + "/out.s"
	qbeCmd := exec.Command(qbePath, "-o", asmPath, ilPath)
	qbeCmd.Stderr = os.Stderr
	if err := qbeCmd.Run(); err != nil {
		return errors.Wrap(err, "qbe assembly generation failed")
	}

	binPath := tmpDir + "/out"
	ccCmd := exec.Command(ccPath, "-o", binPath, asmPath)
	ccCmd.Stderr = os.Stderr
	if err := ccCmd.Run(); err != nil {
		return errors.Wrap(err, "linking native binary failed")
	}

	runCmd := exec.Command(binPath)
	runCmd.Stdout = os.Stdout
	runCmd.Stderr = os.Stderr
	runCmd.Stdin = os.Stdin
	if err := runCmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return errors.Wrap(err, "running compiled program")
	}
	return nil
}

// phaseTimer logs each named phase's wall-clock duration when --profile is
// set; a no-op otherwise.
type phaseTimer struct {
	enabled bool
	last    time.Time
}

func newPhaseTimer(enabled bool) *phaseTimer {
	return &phaseTimer{enabled: enabled, last: time.Now()}
}

func (p *phaseTimer) mark(phase string) {
	if !p.enabled {
		return
	}
	now := time.Now()
	log.WithField("phase", phase).WithField("duration", now.Sub(p.last)).Info("profile")
	p.last = now
}
