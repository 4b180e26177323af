// Command keytool is the operator CLI for provisioning credentials and
// checking the credit ledger outside the HTTP API.
//
//	keytool apikey                      print a fresh key with its prefix and hash
//	keytool token -sub ops -hours 24    mint an admin service token
//	keytool reconcile                   list keys whose balance disagrees with the ledger
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/monkbot/gateway/internal/config"
	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/services"
	"github.com/monkbot/gateway/internal/utils"
)

func main() {
	_ = godotenv.Load()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "keytool:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: keytool apikey | token -sub <name> [-hours n] | reconcile")
	}

	switch args[0] {
	case "apikey":
		return printAPIKey(out)
	case "token":
		return printServiceToken(args[1:], out)
	case "reconcile":
		return printDrift(out)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printAPIKey(out io.Writer) error {
	gen, err := utils.GenerateAPIKey()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(gen)
}

func printServiceToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("sub", "", "token subject, recorded as the audit actor")
	hours := fs.Int("hours", 24, "lifetime in hours")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("token: -sub is required")
	}
	if *hours <= 0 {
		return fmt.Errorf("token: -hours must be positive")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	utils.SetServiceSecret(cfg.Admin.TokenSecret)

	token, err := utils.GenerateServiceToken(*subject, []string{utils.ScopeAdmin}, *hours)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func printDrift(out io.Writer) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	db, err := models.Open(&cfg.Database)
	if err != nil {
		return err
	}

	drifts, err := services.NewCreditService(db).Reconcile(context.Background())
	if err != nil {
		return err
	}
	if len(drifts) == 0 {
		_, err = fmt.Fprintln(out, "ledger consistent")
		return err
	}

	fmt.Fprintf(out, "%-36s %10s %10s\n", "API KEY", "BALANCE", "LEDGER")
	for _, d := range drifts {
		fmt.Fprintf(out, "%-36s %10d %10d\n", d.APIKeyID, d.Balance, d.LedgerSum)
	}
	return fmt.Errorf("%d keys out of balance", len(drifts))
}
