package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mattjoyce/jobrelay/internal/config"
	"github.com/mattjoyce/jobrelay/internal/doctor"
	"github.com/mattjoyce/jobrelay/internal/signature"
)

// resolveConfigPath falls back to the standard locations when no path was given.
func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	discovered, err := config.DiscoverConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to discover config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigHashUpdate(args []string) int {
	var configPath string

	fs := flag.NewFlagSet("hash-update", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "config.yaml")
	}

	hash, err := config.WriteChecksums(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update checksums: %v\n", err)
		return 1
	}
	fmt.Printf("Pinned %s\n  blake3: %s\n", path, hash)
	return 0
}

func runSign(platform string, args []string) int {
	var configPath, secret, bodyFile, timestamp string

	fs := flag.NewFlagSet("sign "+platform, flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Read the secret from this configuration")
	fs.StringVar(&secret, "secret", "", "Signing secret (overrides --config)")
	fs.StringVar(&bodyFile, "body-file", "", "File holding the request body (default stdin)")
	if platform == "chat" {
		fs.StringVar(&timestamp, "timestamp", "", "Unix timestamp to sign (default now)")
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if secret == "" {
		cfg, err := loadConfigForTool(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
			return 1
		}
		secret = cfg.Slack.SigningSecret
		if platform == "fsm" {
			secret = cfg.Jobber.WebhookSecret
		}
	}
	if secret == "" {
		fmt.Fprintf(os.Stderr, "No %s secret configured\n", platform)
		return 1
	}

	body, err := readBody(bodyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		return 1
	}

	if platform == "fsm" {
		fmt.Printf("%s: %s\n", signature.HeaderFSMSignature, signature.SignFSM(secret, body))
		return 0
	}

	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	}
	fmt.Printf("%s: %s\n", signature.HeaderChatTimestamp, timestamp)
	fmt.Printf("%s: %s\n", signature.HeaderChatSignature, signature.SignChat(secret, timestamp, body))
	return 0
}

func readBody(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
