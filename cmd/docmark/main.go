// Package main is the entry point for the docmark CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/docmark"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the docmark CLI.
var rootCmd = &cobra.Command{
	Use:   "docmark",
	Short: "Convert documents to Markdown",
	Long: `docmark converts office documents, PDFs, web pages, data files, e-mail,
notebooks and archives into Markdown suitable for language models.

Formats are detected from the file extension and the leading bytes. Archives
are converted entry by entry. Images and scanned pages can be described by a
vision LLM or by local OCR when configured.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl := docmark.Config{LogLevel: viper.GetString("log_level")}.SlogLevel()
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./docmark.yaml or ~/.config/docmark/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("storage-root", "", "confine input paths to this directory")
	rootCmd.PersistentFlags().String("storage-db", "", "read input paths from this SQLite blob store (see 'docmark store')")
	rootCmd.PersistentFlags().String("vision-provider", "", "vision LLM provider: ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom")
	rootCmd.PersistentFlags().String("vision-model", "", "vision LLM model")
	rootCmd.PersistentFlags().String("vision-base-url", "", "vision LLM base URL")
	rootCmd.PersistentFlags().Bool("describe-images", false, "describe extracted images with the configured describer")
	rootCmd.PersistentFlags().Bool("ocr", false, "use local Tesseract OCR as describer (needs -tags ocr)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("storage_root", rootCmd.PersistentFlags().Lookup("storage-root"))
	viper.BindPFlag("storage_db", rootCmd.PersistentFlags().Lookup("storage-db"))
	viper.BindPFlag("vision.provider", rootCmd.PersistentFlags().Lookup("vision-provider"))
	viper.BindPFlag("vision.model", rootCmd.PersistentFlags().Lookup("vision-model"))
	viper.BindPFlag("vision.base_url", rootCmd.PersistentFlags().Lookup("vision-base-url"))
	viper.BindPFlag("describe_images", rootCmd.PersistentFlags().Lookup("describe-images"))
	viper.BindPFlag("ocr", rootCmd.PersistentFlags().Lookup("ocr"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("docmark")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "docmark"))
		}
	}

	viper.SetEnvPrefix("DOCMARK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("docmark: using config file", "path", viper.ConfigFileUsed())
	}
}

// loadConfig builds the engine config: the config file viper found, then
// any flag or DOCMARK_* env value on top.
func loadConfig(v *viper.Viper) (docmark.Config, error) {
	cfg := docmark.DefaultConfig()
	if path := v.ConfigFileUsed(); path != "" {
		if _, err := os.Stat(path); err == nil {
			if cfg, err = docmark.LoadConfig(path); err != nil {
				return cfg, err
			}
		}
	}

	str := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	str("log_level", &cfg.LogLevel)
	str("storage_root", &cfg.StorageRoot)
	str("storage_db", &cfg.StorageDB)
	str("vision.provider", &cfg.Vision.Provider)
	str("vision.model", &cfg.Vision.Model)
	str("vision.base_url", &cfg.Vision.BaseURL)
	str("vision.api_key", &cfg.Vision.APIKey)
	str("ocr_languages", &cfg.OCRLanguages)
	str("pdftoppm_path", &cfg.PdftoppmPath)
	flag("describe_images", &cfg.DescribeImages)
	flag("ocr", &cfg.OCR)
	if v.IsSet("max_file_size") && v.GetInt64("max_file_size") > 0 {
		cfg.MaxFileSize = v.GetInt64("max_file_size")
	}
	return cfg, nil
}

func newEngine() (*docmark.Engine, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	e, err := docmark.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return e, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
