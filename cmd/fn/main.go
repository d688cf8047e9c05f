package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fnlang/fn"
)

type args struct {
	eval        *string
	interactive *bool
	packagePath *string
	stackSize   *int
}

func readArgs() *args {
	a := &args{
		eval:        flag.String("e", "", "Evaluate a source string instead of a file"),
		interactive: flag.Bool("i", false, "Drop into a read-eval-print loop"),
		packagePath: flag.String("package-path", "", "System prefix directory searched for imports"),
		stackSize:   flag.Int("stack-size", 0, "VM value stack size"),
	}
	flag.Parse()
	return a
}

func main() {
	log.SetFlags(0)
	a := readArgs()

	opts := fn.DefaultOptions()
	if *a.packagePath != "" {
		opts.PackagePath = *a.packagePath
	}
	if *a.stackSize > 0 {
		opts.StackSize = *a.stackSize
	}

	defer func() {
		// fatal interpreter conditions (OOM, symbol exhaustion)
		// arrive as panics; report and exit nonzero
		if r := recover(); r != nil {
			if fe, ok := r.(*fn.FatalError); ok {
				log.Println(fe.Error())
				os.Exit(2)
			}
			panic(r)
		}
	}()

	S := fn.NewIState(opts)

	switch {
	case *a.eval != "":
		v, err := S.EvalString(*a.eval, "<cmdline>")
		if err != nil {
			log.Println(err)
			os.Exit(1)
		}
		fmt.Println(fn.ValueString(v, S.Symtab, true))
	case *a.interactive:
		if err := S.REPL(os.Stdin, os.Stdout); err != nil {
			log.Println(err)
			os.Exit(1)
		}
	default:
		if flag.NArg() != 1 {
			log.Println("usage: fn [options] <file.fn> | fn -e \"<src>\" | fn -i")
			os.Exit(1)
		}
		if _, err := S.InterpretFile(flag.Arg(0)); err != nil {
			log.Println(err)
			os.Exit(1)
		}
	}
}
