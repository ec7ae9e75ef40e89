// Pyrite CLI - runs, disassembles, and serves compiled program images.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/pyrite/manifest"
	"github.com/chazu/pyrite/server"
	"github.com/chazu/pyrite/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("pyrite")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: pyrite <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run [image.pyri]     Execute an image, or the project entry module\n")
	fmt.Fprintf(os.Stderr, "  disasm <image.pyri>  Disassemble an image\n")
	fmt.Fprintf(os.Stderr, "  serve                Start the runtime service\n\n")
	fmt.Fprintf(os.Stderr, "Examples:\n")
	fmt.Fprintf(os.Stderr, "  pyrite run app.pyri            # Run a compiled image\n")
	fmt.Fprintf(os.Stderr, "  pyrite run                     # Run the pyrite.toml entry module\n")
	fmt.Fprintf(os.Stderr, "  pyrite run -call main app.pyri # Run, then call main()\n")
	fmt.Fprintf(os.Stderr, "  pyrite disasm app.pyri         # Show bytecode\n")
	fmt.Fprintf(os.Stderr, "  pyrite serve -port 8080        # Runtime service on :8080\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "disasm":
		err = cmdDisasm(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "pyrite: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newVM bootstraps a VM configured from the nearest pyrite.toml, when
// one exists.
func newVM() (*vm.VirtualMachine, *manifest.Manifest, error) {
	v := vm.New()

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, nil, err
	}
	if m != nil {
		v.SysPath = m.SourceDirPaths()
		v.RecursionLimit = m.Runtime.RecursionLimit
		v.Profiler = vm.NewProfiler(uint64(m.Runtime.HotThreshold))

		cache, err := vm.OpenCodeCache(m.CachePath())
		if err != nil {
			// An unusable cache only costs recompilation; run without one.
			log.Warningf("module cache disabled: %v", err)
		} else {
			v.CodeCache = cache
		}
	}
	return v, m, nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	call := fs.String("call", "", "Function to call after module execution")
	fs.Parse(args)

	v, m, err := newVM()
	if err != nil {
		return err
	}

	var result vm.Value
	switch {
	case fs.NArg() > 0:
		data, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			return err
		}
		code, err := vm.ReadImage(data)
		if err != nil {
			return err
		}
		result, err = v.Run(code)
		if err != nil {
			return err
		}
	case m != nil && m.Source.Entry != "":
		if _, err := v.ImportModule(m.Source.Entry); err != nil {
			return err
		}
	default:
		return fmt.Errorf("no image given and no entry module configured")
	}

	if *call != "" {
		result, err = v.CallByName(*call, nil)
		if err != nil {
			return err
		}
		// An int from the entry function becomes the exit code.
		if result.IsInt() {
			os.Exit(int(result.Int()))
		}
	}
	return nil
}

func cmdDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("disasm takes exactly one image path")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	code, err := vm.ReadImage(data)
	if err != nil {
		return err
	}

	fmt.Print(disassembleAll(code))
	return nil
}

// disassembleAll lists the root code object followed by every nested one.
func disassembleAll(code *vm.CodeObject) string {
	var sb strings.Builder
	var walk func(c *vm.CodeObject)
	walk = func(c *vm.CodeObject) {
		sb.WriteString(vm.Disassemble(c))
		sb.WriteString("\n")
		for _, konst := range c.Constants {
			if konst.IsObject() && konst.Object().Kind == vm.KindCode {
				walk(konst.Object().Code)
			}
		}
	}
	walk(code)
	return sb.String()
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 4567, "Runtime service port")
	fs.Parse(args)

	v, _, err := newVM()
	if err != nil {
		return err
	}

	srv := server.New(v)
	defer srv.Stop()
	return srv.ListenAndServe(fmt.Sprintf(":%d", *port))
}
