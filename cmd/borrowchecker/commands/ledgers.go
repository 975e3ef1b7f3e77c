package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/borrowchecker/borrowchecker/internal/app"
	"github.com/borrowchecker/borrowchecker/internal/components"
	"github.com/borrowchecker/borrowchecker/internal/ledger"
)

// LedgersCommand prints every ledger with its transaction count and the
// configured user's balance per currency.
func LedgersCommand(args []string) error {
	return listLedgers(context.Background(), os.Stdout, args)
}

func listLedgers(ctx context.Context, out io.Writer, args []string) error {
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

	cfg, _, err := loadConfig(dir, configPath)
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tLEDGER\tID\tTRANSACTIONS\tBALANCE")
	for _, g := range a.Groups() {
		ls, err := g.Repo.ListLedgers(ctx)
		if err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
		for _, l := range ls {
			txs, err := g.Repo.ListTransactions(ctx, l.ID)
			if err != nil {
				return fmt.Errorf("ledger %s: %w", l.DisplayName, err)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", g.ID, l.DisplayName, l.ID, len(txs), balances(txs, a))
		}
	}
	return w.Flush()
}

// balances formats the user's total per currency, e.g. "EUR 188.00".
func balances(txs []ledger.Transaction, a *app.App) string {
	byCurrency := ledger.ByCurrency(txs)
	if len(byCurrency) == 0 {
		return "-"
	}
	currencies := make([]string, 0, len(byCurrency))
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	parts := make([]string, len(currencies))
	for i, c := range currencies {
		parts[i] = components.Money(ledger.Total(ledger.Balances(byCurrency[c], a.User())), c)
	}
	return strings.Join(parts, ", ")
}
