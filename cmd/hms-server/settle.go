package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/domain/account"
	"github.com/hms/hms/internal/domain/settlement"
	"github.com/hms/hms/internal/platform/apiclient"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/logging"
)

type settleOptions struct {
	accountID    uuid.UUID
	method       string
	amount       float64
	cash         float64
	card         float64
	receivable   bool
	reason       string
	user         string
	roles        []string
	elevatedRole string
	currency     string
	dryRun       bool
}

func settleCmd() *cobra.Command {
	var (
		opts      settleOptions
		accountID string
		apiURL    string
		token     string
		tenant    string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Close a patient account against a running server",
		Long: `Loads the account, shows its balance and the change for the given payment,
validates the settlement locally and submits the close. Amounts accept
"$1,250.50" style input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(accountID)
			if err != nil {
				return fmt.Errorf("invalid --account: %w", err)
			}
			opts.accountID = id
			if apiURL == "" {
				return fmt.Errorf("--api-url or HMS_API_URL is required")
			}

			gw := apiclient.New(apiURL, apiclient.WithToken(token), apiclient.WithTenant(tenant))
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runSettle(ctx, gw, cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&accountID, "account", "", "Account id to close")
	f.StringVar(&opts.method, "method", string(account.MethodCash), "Payment method: cash, card, transfer or mixed")
	f.Var((*amountValue)(&opts.amount), "amount", "Amount tendered (cash, card, transfer)")
	f.Var((*amountValue)(&opts.cash), "cash", "Cash part of a mixed payment")
	f.Var((*amountValue)(&opts.card), "card", "Card part of a mixed payment")
	f.BoolVar(&opts.receivable, "receivable", false, "Authorize the deficit as accounts receivable")
	f.StringVar(&opts.reason, "reason", "", "Reason for the accounts receivable authorization")
	f.StringVar(&opts.user, "user", os.Getenv("USER"), "Cashier name printed on the summary")
	f.StringSliceVar(&opts.roles, "role", []string{"cashier"}, "Roles of the acting user")
	f.StringVar(&opts.elevatedRole, "elevated-role", envOr("ELEVATED_ROLE", account.DefaultElevatedRole), "Role allowed to authorize accounts receivable")
	f.StringVar(&opts.currency, "currency", envOr("CURRENCY", "MXN"), "Currency printed on the summary")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Show the balance and validation result without closing")
	f.StringVar(&apiURL, "api-url", os.Getenv("HMS_API_URL"), "Base URL of the account API")
	f.StringVar(&token, "token", os.Getenv("HMS_API_TOKEN"), "Bearer token")
	f.StringVar(&tenant, "tenant", os.Getenv("HMS_TENANT"), "Tenant id sent as X-Tenant-ID")
	f.DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

// amountValue is a flag holding a money amount.
type amountValue float64

func (a *amountValue) String() string { return account.FormatMoney(float64(*a)) }

func (a *amountValue) Set(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("empty amount")
	}
	v := account.ParseAmount(s)
	if v == 0 && strings.Trim(s, "$0.,") != "" {
		return fmt.Errorf("invalid amount %q", s)
	}
	*a = amountValue(v)
	return nil
}

func (a *amountValue) Type() string { return "amount" }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildSettlement turns the command line into a typed settlement.
func buildSettlement(o settleOptions) (account.Settlement, error) {
	req := account.CloseRequest{
		MetodoPago:            account.PaymentMethod(strings.ToLower(o.method)),
		CuentaPorCobrar:       o.receivable,
		MotivoCuentaPorCobrar: o.reason,
	}
	if req.MetodoPago == account.MethodMixed {
		cash, card := account.Amount(o.cash), account.Amount(o.card)
		req.MontoEfectivo, req.MontoTarjeta = &cash, &card
	} else {
		amt := account.Amount(o.amount)
		req.MontoPagado = &amt
	}
	return req.Settlement()
}

// runSettle drives one controller lifecycle and prints what a cashier would
// see on screen.
func runSettle(ctx context.Context, gw settlement.Gateway, out io.Writer, o settleOptions) error {
	s, err := buildSettlement(o)
	if err != nil {
		return err
	}

	caller := account.Caller{ID: o.user, Name: o.user, Roles: o.roles}
	ctrl := settlement.NewController(gw, caller, settlement.Callbacks{
		OnSuccess: func() { fmt.Fprintln(out, "Settlement acknowledged.") },
	})
	ctrl.SetValidator(account.NewValidator(o.elevatedRole))
	ctrl.SetNotifier(settlement.NotifierFunc(func(n settlement.Notification) {
		fmt.Fprintf(out, "[%s] %s\n", strings.ToUpper(string(n.Level)), n.Message)
	}))
	ctrl.SetLogger(logging.FromContext(ctx, zerolog.Nop()))
	defer ctrl.Dismiss()

	if err := ctrl.Open(ctx, o.accountID); err != nil {
		return err
	}

	vm := ctrl.View()
	printBalance(out, vm, o.currency)

	preview := ctrl.Preview(s)
	if vm.Totals.Deficit() > 0 && !s.Receivable {
		fmt.Fprintf(out, "%-22s %s\n", "Tendered:", money(preview.Tendered, o.currency))
		fmt.Fprintf(out, "%-22s %s\n", "Change:", money(preview.Change, o.currency))
	}
	if o.dryRun {
		if preview.Validation != nil {
			fmt.Fprintf(out, "Settlement would be rejected: %v\n", preview.Validation)
			return preview.Validation
		}
		fmt.Fprintln(out, "Settlement is valid.")
		return nil
	}

	if err := ctrl.Submit(ctx, s); err != nil {
		var ne *settlement.NetworkError
		if errors.As(err, &ne) {
			return fmt.Errorf("account not closed: %w", err)
		}
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, ctrl.Summary().Text(o.currency))
	return ctrl.Acknowledge()
}

func printBalance(out io.Writer, vm settlement.ViewModel, currency string) {
	if vm.Account != nil {
		fmt.Fprintf(out, "%-22s %s\n", "Patient:", vm.Account.PatientName)
	}
	fmt.Fprintf(out, "%-22s %s\n", "Total charges:", money(vm.Totals.TotalCharges, currency))
	fmt.Fprintf(out, "%-22s %s\n", "Advances:", money(vm.Totals.TotalAdvances, currency))
	fmt.Fprintf(out, "%-22s %s\n", "Partial payments:", money(vm.Totals.TotalPartialPayments, currency))
	switch {
	case vm.Refund:
		fmt.Fprintf(out, "%-22s %s\n", "Refund due:", money(vm.Totals.FinalBalance, currency))
	case vm.Totals.Deficit() > 0:
		fmt.Fprintf(out, "%-22s %s\n", "Amount due:", money(vm.Totals.Deficit(), currency))
	default:
		fmt.Fprintf(out, "%-22s %s\n", "Balance:", "settled")
	}
}

func money(v float64, currency string) string {
	if currency == "" {
		return account.FormatMoney(v)
	}
	return account.FormatMoney(v) + " " + currency
}

// printStatuses renders migration status the way `migrate status` prints it.
func printStatuses(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
