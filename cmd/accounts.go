package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mstefan21/qrelay/internal/pool"
	"github.com/mstefan21/qrelay/internal/store"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List configured accounts and their health",
	Long:  `List the configured upstream accounts with rate, health and usage state.`,
	RunE:  runAccounts,
}

func runAccounts(cmd *cobra.Command, _ []string) error {
	cfg := cfgMgr.Get()

	var st pool.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pg.Close()
		st = pg
	} else if cfg.AccountsFile != "" {
		st = store.NewFile(cfg.AccountsFile)
	} else {
		return fmt.Errorf("no account source: set DATABASE_URL or ACCOUNTS_FILE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accounts, err := st.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	if len(accounts) == 0 {
		color.Yellow("No accounts configured")
		return nil
	}

	fmt.Printf("%-4s %-20s %-8s %-10s %-8s %-10s %-12s\n",
		"ID", "NAME", "ACTIVE", "HEALTHY", "ERRORS", "RPM", "REQUESTS")

	for _, a := range accounts {
		health := color.GreenString("yes")
		if !a.IsHealthy {
			health = color.RedString("no")
		}

		active := "yes"
		if !a.IsActive {
			active = "no"
		}

		fmt.Printf("%-4d %-20s %-8s %-10s %-8d %-10s %-12d\n",
			a.ID, a.Name, active, health, a.ErrorCount,
			fmt.Sprintf("%d/%d", a.CurrentRPM, a.RequestsPerMinute),
			a.TotalRequests)

		if !a.IsHealthy && a.HealthCheckError != "" {
			color.Red("     last error: %s", a.HealthCheckError)
			if !a.AutoRecoverAt.IsZero() {
				fmt.Printf("     recovers at: %s\n", a.AutoRecoverAt.Format(time.RFC3339))
			}
		}
	}

	return nil
}
