package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mstefan21/qrelay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the relay configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for the relay settings.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration with secrets redacted.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Q Relay Configuration Setup")
	color.Yellow("Follow the prompts; press enter to accept a default.")

	reader := bufio.NewReader(os.Stdin)

	cfg := &config.Config{}

	fmt.Printf("\nListen host [%s]: ", config.DefaultHost)
	cfg.Host = readLine(reader)

	fmt.Printf("Listen port [%d]: ", config.DefaultPort)
	if port := readLine(reader); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", port, err)
		}
		cfg.Port = p
	}

	fmt.Print("API key for clients (optional, empty disables auth): ")
	cfg.APIKey = readLine(reader)

	fmt.Print("Accounts file path (leave empty when using DATABASE_URL): ")
	cfg.AccountsFile = readLine(reader)

	fmt.Printf("Upstream endpoint [%s]: ", config.DefaultUpstreamEndpoint)
	cfg.Upstream.Endpoint = readLine(reader)

	fmt.Printf("Token endpoint [%s]: ", config.DefaultTokenEndpoint)
	cfg.Upstream.TokenEndpoint = readLine(reader)

	// Accepted defaults arrive as empty answers; persist the real values.
	cfg.FillDefaults()

	if err := cfgMgr.Save(cfg); err != nil {
		return err
	}

	color.Green("Configuration written to %s", cfgMgr.GetPath())
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg := cfgMgr.Get()
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	redacted := *cfg
	if redacted.APIKey != "" {
		redacted.APIKey = "***"
	}
	if redacted.DatabaseURL != "" {
		redacted.DatabaseURL = "***"
	}
	if redacted.RedisURL != "" {
		redacted.RedisURL = "***"
	}

	data, err := json.MarshalIndent(&redacted, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	var problems []string
	if cfg.Port <= 0 || cfg.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d", cfg.Port))
	}
	if cfg.DatabaseURL == "" && cfg.AccountsFile == "" {
		problems = append(problems, "no account source: set DATABASE_URL or ACCOUNTS_FILE")
	}
	if cfg.Upstream.Endpoint == "" {
		problems = append(problems, "upstream endpoint is empty")
	}
	if cfg.Upstream.TokenEndpoint == "" {
		problems = append(problems, "token endpoint is empty")
	}

	if len(problems) > 0 {
		for _, p := range problems {
			color.Red("  ✗ %s", p)
		}
		return fmt.Errorf("configuration has %d problem(s)", len(problems))
	}

	color.Green("Configuration is valid")
	return nil
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
