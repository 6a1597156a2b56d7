package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kristofer/lox/pkg/ast"
	"github.com/kristofer/lox/pkg/bytecode"
	"github.com/kristofer/lox/pkg/lexer"
	"github.com/kristofer/lox/pkg/parser"
	"github.com/kristofer/lox/pkg/vm"
)

const version = "0.3.0"

// Exit codes follow sysexits: 65 for bad input (compile errors), 70 for
// internal software errors (runtime errors), 74 for I/O failures.
const (
	exitOK       = 0
	exitDataErr  = 65
	exitSoftware = 70
	exitIOErr    = 74
)

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("lox version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL()
	case "tokenize":
		tokenizeFile(fileArg())
	case "parse":
		parseFile(fileArg())
	case "evaluate":
		evaluateFile(fileArg())
	case "run":
		runFile(fileArg())
	case "compile":
		inputFile := fileArg()
		outputFile := ""
		if len(os.Args) >= 4 {
			outputFile = os.Args[3]
		}
		compileFile(inputFile, outputFile)
	case "disassemble", "disasm":
		disassembleFile(fileArg())
	default:
		// Assume it's a file to run
		runFile(os.Args[1])
	}
}

func fileArg() string {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: no file specified")
		printUsage()
		os.Exit(exitDataErr)
	}
	return os.Args[2]
}

func printUsage() {
	fmt.Println("lox - a bytecode interpreter for the lox language")
	fmt.Println("\nUsage:")
	fmt.Println("  lox                        Start interactive REPL")
	fmt.Println("  lox [file]                 Run a .lox or .loxb file")
	fmt.Println("  lox run <file>             Run a .lox or .loxb file")
	fmt.Println("  lox tokenize <file>        Print the token stream")
	fmt.Println("  lox parse <file>           Parse an expression and print its tree")
	fmt.Println("  lox evaluate <file>        Evaluate an expression and print the value")
	fmt.Println("  lox compile <in> [out]     Compile .lox to .loxb bytecode")
	fmt.Println("  lox disassemble <file>     Disassemble a .loxb bytecode file")
	fmt.Println("  lox repl                   Start interactive REPL")
	fmt.Println("  lox version                Show version")
	fmt.Println("  lox help                   Show this help")
}

func readSource(filename string) string {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(exitIOErr)
	}
	return string(data)
}

// tokenizeFile prints the token stream, one token per line as
// "TYPE lexeme literal". String tokens show their unquoted contents as the
// literal; numbers show their parsed value, integer values with one
// decimal place. Lexical errors print to stderr and turn the exit code.
func tokenizeFile(filename string) {
	source := readSource(filename)
	tokens := lexer.New(source).Tokenize()

	hadError := false
	for _, tok := range tokens {
		switch tok.Type {
		case lexer.TokenError:
			fmt.Fprintf(os.Stderr, "[line %d] Error: %s\n", tok.Line, tok.Lexeme)
			hadError = true
		case lexer.TokenString:
			unquoted := tok.Lexeme[1 : len(tok.Lexeme)-1]
			fmt.Printf("%s %s %s\n", tok.Type, tok.Lexeme, unquoted)
		case lexer.TokenNumber:
			value, _ := strconv.ParseFloat(tok.Lexeme, 64)
			fmt.Printf("%s %s %s\n", tok.Type, tok.Lexeme, ast.FormatNumberLiteral(value))
		default:
			fmt.Printf("%s %s null\n", tok.Type, tok.Lexeme)
		}
	}

	if hadError {
		os.Exit(exitDataErr)
	}
}

// parseFile parses a single expression and prints its parenthesized form.
func parseFile(filename string) {
	source := readSource(filename)
	p := parser.New(source)
	expr, err := p.Parse()
	if err != nil {
		for _, e := range p.Errors() {
			fmt.Fprintln(os.Stderr, e)
		}
		os.Exit(exitDataErr)
	}
	fmt.Println(ast.Print(expr))
}

// evaluateFile compiles a single expression and prints its value.
func evaluateFile(filename string) {
	source := readSource(filename)
	v := vm.New(os.Stdout, os.Stderr)
	os.Exit(exitCode(v.Evaluate(source)))
}

// runFile executes a .lox source file, or a pre-compiled .loxb bytecode
// file when the extension says so.
func runFile(filename string) {
	if filepath.Ext(filename) == ".loxb" {
		runBytecodeFile(filename)
		return
	}

	source := readSource(filename)
	v := vm.New(os.Stdout, os.Stderr)
	os.Exit(exitCode(v.Interpret(source)))
}

func runBytecodeFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(exitIOErr)
	}
	defer file.Close()

	v := vm.New(os.Stdout, os.Stderr)
	function, err := bytecode.Decode(bufio.NewReader(file), v.Heap())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		os.Exit(exitDataErr)
	}
	os.Exit(exitCode(v.RunFunction(function)))
}

// compileFile compiles a source file to a .loxb bytecode file, defaulting
// the output name from the input.
func compileFile(inputFile, outputFile string) {
	if outputFile == "" {
		if filepath.Ext(inputFile) == ".lox" {
			outputFile = inputFile[:len(inputFile)-4] + ".loxb"
		} else {
			outputFile = inputFile + ".loxb"
		}
	}

	source := readSource(inputFile)
	v := vm.New(os.Stdout, os.Stderr)
	function, err := v.Compile(source)
	if err != nil {
		os.Exit(exitDataErr)
	}

	outFile, err := os.Create(outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		os.Exit(exitIOErr)
	}
	defer outFile.Close()

	w := bufio.NewWriter(outFile)
	if err := bytecode.Encode(function, w); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing bytecode: %v\n", err)
		os.Exit(exitIOErr)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing bytecode: %v\n", err)
		os.Exit(exitIOErr)
	}

	fmt.Printf("Compiled %s -> %s\n", inputFile, outputFile)
}

// disassembleFile prints a readable listing of a .loxb file, including
// every nested function in its constant pool.
func disassembleFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(exitIOErr)
	}
	defer file.Close()

	heap := bytecode.NewHeap()
	function, err := bytecode.Decode(bufio.NewReader(file), heap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		os.Exit(exitDataErr)
	}

	disassembleFunction(function)
}

func disassembleFunction(function *bytecode.Function) {
	name := "<script>"
	if function.Name != nil {
		name = function.Name.Chars
	}
	bytecode.DisassembleChunk(os.Stdout, function.Chunk, name)

	for _, constant := range function.Chunk.Constants {
		if !constant.IsObj() {
			continue
		}
		if nested, ok := constant.AsObj().(*bytecode.Function); ok {
			fmt.Println()
			disassembleFunction(nested)
		}
	}
}

// runREPL starts an interactive read-eval-print loop. The VM persists
// across inputs so globals survive from one line to the next.
func runREPL() {
	fmt.Printf("lox REPL v%s\n", version)
	fmt.Println("Type ':help' for help, ':quit' or ':exit' to exit")
	fmt.Println()

	v := vm.New(os.Stdout, os.Stderr)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("lox> ")
		if !scanner.Scan() {
			break
		}

		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case ":quit", ":exit":
			fmt.Println("Goodbye!")
			return
		case ":help":
			printREPLHelp()
			continue
		case "":
			continue
		}

		// Errors are reported and swallowed; the REPL keeps going.
		v.Interpret(line)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

func printREPLHelp() {
	fmt.Println("lox REPL Help")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  :help     Show this help message")
	fmt.Println("  :quit     Exit the REPL")
	fmt.Println("  :exit     Exit the REPL")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  - Enter lox statements and press Enter")
	fmt.Println("  - Statements end with a semicolon (;)")
	fmt.Println("  - Global variables persist across inputs")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  lox> var x = 42;")
	fmt.Println("  lox> print x + 8;")
	fmt.Println("  50")
	fmt.Println()
}

func exitCode(result vm.InterpretResult) int {
	switch result {
	case vm.InterpretCompileError:
		return exitDataErr
	case vm.InterpretRuntimeError:
		return exitSoftware
	default:
		return exitOK
	}
}
