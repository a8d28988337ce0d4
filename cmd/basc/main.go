package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/basc-lang/basc/pkg/cli"
	"github.com/basc-lang/basc/pkg/compiler"
	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/util"
	"github.com/basc-lang/basc/pkg/vm"
)

func main() {
	app := cli.NewApp("basc")
	app.Synopsis = "[options] <input.bas>"
	app.Description = "A BASIC compiler for in-game integrated circuits. Emits MIPS-flavored assembly that fits the housing's instruction budget."
	app.Repository = "https://github.com/basc-lang/basc"

	var (
		outFile      string
		optLevel     string
		runProgram   bool
		maxTicks     string
		warningFlags []string
		featureFlags []string
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "", "Place the emitted code into <file> instead of stdout.", "file")
	fs.String(&optLevel, "opt", "O", "basic", "Set the optimization level (none, basic, aggressive).", "level")
	fs.Bool(&runProgram, "run", "r", false, "Simulate the compiled program and print the final machine state.")
	fs.String(&maxTicks, "ticks", "t", "1024", "Tick limit for --run.", "n")
	fs.Prefix(&warningFlags, "W", "Toggle a warning: -W<name>, -Wno-<name>, -Wall.")
	fs.Prefix(&featureFlags, "F", "Toggle a language feature: -F<name>, -Fno-<name>.")

	app.Action = func(args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one input file")
		}

		cfg := config.NewConfig()
		if err := cfg.ApplyOpt(optLevel); err != nil {
			return err
		}
		cfg.ProcessFlags(warningFlags)
		cfg.ProcessFlags(featureFlags)

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		src := &util.Source{Name: args[0], Content: []rune(string(data))}

		res := compiler.Compile(string(data), cfg)
		if !res.OK {
			if d, ok := res.Err.(*util.Diag); ok {
				src.PrintDiag(os.Stderr, d)
				os.Exit(1)
			}
			return res.Err
		}

		if outFile != "" {
			if err := os.WriteFile(outFile, []byte(res.Asm), 0o644); err != nil {
				return err
			}
		} else if !runProgram {
			fmt.Print(res.Asm)
		}
		fmt.Fprintf(os.Stderr, "%d of %d instructions used\n", res.Instructions, cfg.MaxInstructions)

		if runProgram {
			return simulate(res.Asm, cfg, maxTicks)
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "basc: %v\n", err)
		os.Exit(1)
	}
}

func simulate(asmText string, cfg *config.Config, maxTicks string) error {
	ticks, err := strconv.Atoi(maxTicks)
	if err != nil || ticks <= 0 {
		return fmt.Errorf("invalid tick limit '%s'", maxTicks)
	}

	m := vm.NewMachine(cfg)
	if err := m.LoadProgram(asmText); err != nil {
		return err
	}
	if err := m.Run(ticks); err != nil {
		return err
	}

	fmt.Printf("status: %s after %d ticks\n", m.Status(), m.Ticks())
	for i := 0; i < cfg.Registers; i++ {
		if v := m.Reg(i); v != 0 {
			fmt.Printf("  r%-2d = %g\n", i, v)
		}
	}
	fmt.Printf("  sp  = %d\n", m.SP())
	for name, v := range m.Housing().Props {
		fmt.Printf("  db.%s = %g\n", name, v)
	}
	return nil
}
