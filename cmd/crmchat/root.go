package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Desarso/crmstream"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "crmchat",
	Short:         "CRM assistant chat client",
	Long:          `Streams replies from the CRM assistant, renders structured customer data and relays conversations to browsers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./crmchat.yaml if present)")

	rootCmd.PersistentFlags().String("backend", crmstream.DefaultBackendURL, "assistant backend base URL")
	viper.BindPFlag("backend_url", rootCmd.PersistentFlags().Lookup("backend"))

	rootCmd.PersistentFlags().String("stream-path", "", "global chat stream route")
	viper.BindPFlag("stream_path", rootCmd.PersistentFlags().Lookup("stream-path"))

	rootCmd.PersistentFlags().StringP("model", "m", "", "model name forwarded to the backend")
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.PersistentFlags().String("store", crmstream.DefaultStoreType, "conversation store: sqlite, postgres or none")
	viper.BindPFlag("store.type", rootCmd.PersistentFlags().Lookup("store"))

	rootCmd.PersistentFlags().String("dsn", crmstream.DefaultStoreDSN, "store path or connection string")
	viper.BindPFlag("store.dsn", rootCmd.PersistentFlags().Lookup("dsn"))

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log stream and store activity to stderr")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("crmchat")
	}

	// backend_url <- CRM_BACKEND_URL, store.dsn <- CRM_STORE_DSN
	viper.SetEnvPrefix("CRM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig starts from the environment (.env included) and overlays every
// value set through flags, config file or CRM_* variables.
func loadConfig() (*crmstream.Config, error) {
	cfg, err := crmstream.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	overlay := func(key string, dst *string) {
		if viper.IsSet(key) {
			if v := viper.GetString(key); v != "" {
				*dst = v
			}
		}
	}
	overlay("backend_url", &cfg.BackendURL)
	overlay("stream_path", &cfg.StreamPath)
	overlay("model", &cfg.Model)
	overlay("listen_addr", &cfg.ListenAddr)
	overlay("store.type", &cfg.StoreType)
	overlay("store.dsn", &cfg.StoreDSN)
	overlay("retention.cron", &cfg.RetentionCron)
	if viper.IsSet("retention.days") {
		cfg.RetentionDays = viper.GetInt("retention.days")
	}
	if cfg.StoreType == "none" {
		cfg.WithoutStore()
	}
	return cfg, cfg.Validate()
}

// commandLogger logs to stderr with verbose, and nowhere otherwise.
func commandLogger(prefix string) *log.Logger {
	var w io.Writer = io.Discard
	if viper.GetBool("verbose") {
		w = os.Stderr
	}
	return log.New(w, prefix, log.LstdFlags)
}
