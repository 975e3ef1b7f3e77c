// Command borrowchecker serves and inspects shared expense ledgers.
package main

import (
	"fmt"
	"os"

	"github.com/borrowchecker/borrowchecker"
	"github.com/borrowchecker/borrowchecker/cmd/borrowchecker/commands"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		printUsage()
		return 1
	}

	command := argv[0]
	args := argv[1:]

	var err error
	switch command {
	case "serve":
		err = commands.ServeCommand(args)
	case "invoke":
		err = commands.InvokeCommand(args)
	case "ledgers":
		err = commands.LedgersCommand(args)
	case "validate":
		err = commands.ValidateCommand(args)
	case "version":
		fmt.Printf("borrowchecker version %s\n", borrowchecker.Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println("borrowchecker - Shared expenses from a ledger repository")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  borrowchecker serve [directory]              Start the web UI")
	fmt.Println("  borrowchecker invoke <command> [--args JSON]  Run a backend command")
	fmt.Println("  borrowchecker ledgers [directory]            List ledgers and balances")
	fmt.Println("  borrowchecker validate [directory]           Check ledger files")
	fmt.Println("  borrowchecker version                        Show version")
	fmt.Println("  borrowchecker help                           Show this help")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  borrowchecker serve                          # Serve the repository in the current directory")
	fmt.Println("  borrowchecker serve ./ledgers --watch        # Reload pages when ledger files change")
	fmt.Println("  borrowchecker invoke list_files_html         # Print the file list fragment")
	fmt.Println("  borrowchecker invoke switch_ledger --args '{\"ledger_id\":\"...\"}' --addr http://localhost:8080")
	fmt.Println("  borrowchecker validate ./ledgers             # Validate every transaction")
}
