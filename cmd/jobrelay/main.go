package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(rest)
	case "config":
		return runConfigNoun(rest)
	case "sign":
		return runSignNoun(rest)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(rest)
	case "version":
		fmt.Printf("jobrelay version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w *os.File) {
	fmt.Fprint(w, `jobrelay - Slack and Jobber webhook relay

Usage:
  jobrelay <noun> <action> [flags]

Core Resources (Nouns):
  system    Relay lifecycle
  config    Configuration validation and integrity
  sign      Signed test requests

System Commands:
  system start      Start the relay in the foreground

Config Commands:
  config check        Validate configuration and report risky settings
  config hash-update  Pin the current config file in .checksums

Sign Commands:
  sign chat         Print chat signature headers for a body
  sign fsm          Print the FSM signature header for a body

General:
  version           Show version information
  help              Show this help message

Use 'jobrelay <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "hash-update", "lock":
		if hasHelpFlag(actionArgs) {
			printConfigHashUpdateHelp()
			return 0
		}
		return runConfigHashUpdate(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runSignNoun(args []string) int {
	if len(args) < 1 {
		printSignNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSignNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "chat", "fsm":
		if hasHelpFlag(actionArgs) {
			printSignHelp(action)
			return 0
		}
		return runSign(action, actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown sign action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: jobrelay system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: jobrelay config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, hash-update")
}

func printSignNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: jobrelay sign <chat|fsm> [flags]")
	fmt.Fprintln(w, "Actions: chat, fsm")
}

func printSystemStartHelp() {
	fmt.Println("Usage: jobrelay system start [--config PATH]")
	fmt.Println("Start the webhook server and notification worker in the foreground.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: jobrelay config check [--config PATH] [--format human|json] [--json] [--strict]")
	fmt.Println("Load the configuration and report errors and warnings.")
}

func printConfigHashUpdateHelp() {
	fmt.Println("Usage: jobrelay config hash-update [--config PATH]")
	fmt.Println("Record the BLAKE3 hash of the config file in the .checksums manifest next to it.")
}

func printSignHelp(platform string) {
	fmt.Printf("Usage: jobrelay sign %s [--config PATH | --secret SECRET] [--body-file PATH]\n", platform)
	fmt.Println("Sign a request body (stdin by default) and print the headers to send with it.")
}
