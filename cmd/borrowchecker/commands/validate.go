package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/borrowchecker/borrowchecker/internal/app"
	"github.com/borrowchecker/borrowchecker/internal/ledger"
)

type validationProblem struct {
	location string
	err      ledger.ValidationError
}

// ValidateCommand checks the configuration, the group, every ledger and
// every transaction of each configured group.
func ValidateCommand(args []string) error {
	return validate(context.Background(), os.Stdout, args)
}

func validate(ctx context.Context, out io.Writer, args []string) error {
	dir := "."
	var configPath string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var err error
		switch {
		case arg == "--config" || arg == "-c":
			configPath, err = flagValue(args, &i)
		case !strings.HasPrefix(arg, "-"):
			dir = arg
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
		if err != nil {
			return err
		}
	}

	cfg, absDir, err := loadConfig(dir, configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "🔍 Validating ledgers in: %s\n\n", absDir)

	a, err := app.Open(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	var problems []validationProblem
	var ledgerCount, txCount int
	collect := func(location string, r ledger.ValidationResult) {
		for _, e := range r.Errors {
			problems = append(problems, validationProblem{location: location, err: e})
		}
	}

	for _, g := range a.Groups() {
		group, err := g.Repo.LoadGroup(ctx)
		if err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
		collect(g.ID+"/group.toml", ledger.ValidateGroup(group))

		ls, err := g.Repo.ListLedgers(ctx)
		if err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
		for _, l := range ls {
			ledgerCount++
			collect(g.ID+"/"+l.DisplayName, ledger.ValidateLedger(l, group))

			txs, err := g.Repo.ListTransactions(ctx, l.ID)
			if err != nil {
				return fmt.Errorf("ledger %s: %w", l.DisplayName, err)
			}
			for _, tx := range txs {
				txCount++
				collect(g.ID+"/"+l.DisplayName+"/"+ledger.TransactionFileName(tx.ID), ledger.ValidateTransaction(tx, l, group))
			}
		}
	}

	if len(problems) == 0 {
		fmt.Fprintf(out, "✅ %d ledgers, %d transactions valid\n", ledgerCount, txCount)
		return nil
	}

	for _, p := range problems {
		fmt.Fprintf(out, "❌ %s: %s\n", p.location, p.err.Error())
	}
	fmt.Fprintln(out)
	return fmt.Errorf("validation failed: %d problems in %d ledgers", len(problems), ledgerCount)
}
