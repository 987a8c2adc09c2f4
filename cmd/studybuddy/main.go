package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/studybuddy/internal/app"
	"github.com/hpungsan/studybuddy/internal/config"
	"github.com/hpungsan/studybuddy/internal/logging"
	"github.com/hpungsan/studybuddy/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// envFile is loaded from the working directory when present.
const envFile = ".env"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"run": true, "extract": true, "summarize": true,
	"history": true, "whoami": true, "login": true, "logout": true,
	"serve": true, "token": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ _           _       ___           _    _
  / __| |_ _  _ __| |_  _ | _ )_  _ __| |__| |_  _
  \__ \  _| || / _' | || || _ \ || / _' / _' | || |
  |___/\__|\_,_\__,_|\_, ||___/\_,_\__,_\__,_|\_, |
                     |__/                     |__/

  Photos and PDFs of notes in, summaries out

  Usage: studybuddy <command> [options]
         studybuddy --help

  MCP server mode requires piped input.`)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before any config is read
	if isHelpOrVersion() {
		cliApp := newCLIApp(nil, "", nil)
		if err := cliApp.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, config.DirName)

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	secrets, err := config.LoadSecrets(envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load %s: %v\n", envFile, err)
		os.Exit(1)
	}
	cfg.ApplySecrets(secrets)

	log := logging.New(cfg.LogLevel, os.Stderr)
	a := app.New(cfg, cfg.ResolvedDownloadDir(baseDir), log)

	if isCLIMode() {
		cliApp := newCLIApp(a, baseDir, secrets)
		err := cliApp.Run(os.Args)
		a.Wait()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'studybuddy --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.WithField("tools", unknown).Warn("ignoring unknown disabled_tools entries")
	}

	// MCP server mode (default)
	if err := mcp.Run(context.Background(), a, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
