package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vidrelay/internal/channel"
	"vidrelay/internal/config"
	"vidrelay/internal/messages"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the relay setup",
		Long: `Verifies that the configuration is complete, the bot token is accepted by
Telegram, and the resolution backend is reachable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("vidrelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			// 1. Config file (optional)
			if p := resolveConfigPath(); p != "" {
				printPass("Config file", p)
				passed++
			} else {
				printWarn("Config file", "none, using environment only")
				warned++
			}

			// 2. Config loads and validates
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Reply catalog
			if _, err := messages.Load(cfg.MessagesFile, logger); err != nil {
				printFail("Messages", err.Error())
				failed++
			} else if cfg.MessagesFile != "" {
				printPass("Messages", cfg.MessagesFile)
				passed++
			}

			// 4. Telegram token
			tg := channel.NewTelegram(channel.TelegramConfig{Token: cfg.Telegram.Token, Logger: logger})
			if err := tg.Connect(); err != nil {
				printFail("Telegram", err.Error())
				failed++
			} else {
				printPass("Telegram", "@"+tg.Username())
				passed++
			}

			// 5. Backend reachable
			if err := checkBackend(cmd.Context(), cfg.Backend.URL); err != nil {
				printFail("Backend", err.Error())
				failed++
			} else {
				printPass("Backend", cfg.Backend.URL)
				passed++
			}

			// 6. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Addr); err != nil {
					printWarn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
					warned++
				} else {
					printPass("Metrics addr", cfg.Metrics.Addr+" available")
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running vidrelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Printf("\nAll checks passed! vidrelay is ready to run.\n")
			return nil
		},
	}
}

// checkBackend only verifies that something answers HTTP at the backend URL;
// posting a real link would cost a full extraction.
func checkBackend(ctx context.Context, backendURL string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, backendURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: %s", resp.Status)
	}
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Fprintf(os.Stdout, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Fprintf(os.Stdout, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Fprintf(os.Stdout, "  [WARN] %-20s %s\n", check, detail)
}
