// Composer CLI — компиляция скриптов композиции и работа
// с асинхронными компиляциями через HTTP API.
//
// Использование:
//
//	composer [--api-url URL] [--config FILE] [--json] <command> [flags]
//
// Команды:
//
//	compile      Локальная компиляция файла в FSM
//	compilation  Компиляции через API (submit, show, list)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/composer/internal/cli"
	"github.com/shaiso/composer/internal/config"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var configPath string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "composer",
		Short:         "Composer CLI — compiles composition scripts into FSMs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (default $"+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	configFn := func() (*config.Config, error) { return config.Load(configPath) }

	rootCmd.AddCommand(
		cli.NewCompileCmd(configFn, outputFn),
		cli.NewCompilationCmd(clientFn, outputFn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
