package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/borrowchecker/borrowchecker/internal/app"
	"github.com/borrowchecker/borrowchecker/internal/bridge"
)

// InvokeCommand runs a backend command and prints the HTML fragment. With
// --addr the command runs on a live server, otherwise against the
// repository in --dir (default: the current directory).
func InvokeCommand(args []string) error {
	return invoke(context.Background(), os.Stdout, args)
}

func invoke(ctx context.Context, out io.Writer, args []string) error {
	var command, argsJSON, addr, configPath string
	dir := "."
	timeout := 30 * time.Second

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var err error
		switch {
		case arg == "--args" || arg == "-a":
			argsJSON, err = flagValue(args, &i)
		case arg == "--addr":
			addr, err = flagValue(args, &i)
		case arg == "--dir" || arg == "-d":
			dir, err = flagValue(args, &i)
		case arg == "--config" || arg == "-c":
			configPath, err = flagValue(args, &i)
		case arg == "--timeout":
			var v string
			if v, err = flagValue(args, &i); err == nil {
				timeout, err = time.ParseDuration(v)
			}
		case !strings.HasPrefix(arg, "-") && command == "":
			command = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
		if err != nil {
			return err
		}
	}

	if command == "" {
		return errors.New("usage: borrowchecker invoke <command> [--args JSON] [--addr URL] [--dir DIR]")
	}

	var raw json.RawMessage
	if argsJSON != "" {
		if !json.Valid([]byte(argsJSON)) {
			return fmt.Errorf("--args is not valid JSON: %s", argsJSON)
		}
		raw = json.RawMessage(argsJSON)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var invoker bridge.Invoker
	if addr != "" {
		client, err := bridge.NewHTTPClient(addr, timeout)
		if err != nil {
			return err
		}
		invoker = client
	} else {
		cfg, _, err := loadConfig(dir, configPath)
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		a, err := app.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		registry := bridge.NewRegistry(log)
		if err := a.Register(registry); err != nil {
			return err
		}
		invoker = registry
	}

	html, err := invoker.Invoke(ctx, command, raw)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, html)
	return nil
}
