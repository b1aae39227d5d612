package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"learnassist/src"
	"learnassist/src/app"
	"learnassist/src/logger"
	"learnassist/src/model"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	exitSuccess = 0
	exitError   = 1
	// exitRejected is used when the request was understood but refused:
	// busy, conflict, invalid mode, not found or invalid input.
	exitRejected = 2
)

var application *app.App

var rootCmd = &cobra.Command{
	Use:           "learnassist",
	Short:         "Learning assistant execution core",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("error loading .env file: %w", err)
		}

		cfg, err := src.LoadConfig()
		if err != nil {
			return err
		}
		if err := logger.InitLogger(cfg.LogConfig); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		application, err = app.New(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		logger.Info().Str("backend", cfg.ProviderConfig.Backend).Str("model", cfg.ProviderConfig.Model).Msg("Application started")
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if application == nil {
			return nil
		}
		return application.Close()
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(sessionCmd(), syncCmd(), rollbackCmd(), historyCmd(), diffCmd(), statsCmd(),
		analyzeCmd(), chainCmd(), parallelCmd(), detectModeCmd(), resultsCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if application != nil {
			application.Close()
		}
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

func exitCode(err error) int {
	switch typ, _ := model.ErrorInfo(err); typ {
	case model.ErrorTypeBusy, model.ErrorTypeVersionConflict, model.ErrorTypeNotFound,
		model.ErrorTypeInvalidMode, model.ErrorTypeValidation, model.ErrorTypeSessionDeleted:
		return exitRejected
	}
	return exitError
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// parseInputs turns repeated key=value flags into an inputs map. A value
// that parses as JSON is kept as the decoded value.
func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, model.NewValidationError("input", fmt.Sprintf("expected key=value, got %q", pair))
		}
		var decoded any
		if err := sonic.UnmarshalString(value, &decoded); err == nil {
			inputs[key] = decoded
		} else {
			inputs[key] = value
		}
	}
	return inputs, nil
}
