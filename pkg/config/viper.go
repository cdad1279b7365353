// Package config is responsible for initializing the application's
// configuration. It uses the Viper library to read settings from a config
// file and environment variables, providing a unified configuration system.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/logging"
)

// InitConfig initializes the application's configuration using Viper.
// It sets up default values, defines configuration search paths, and enables
// reading from environment variables. Designed to be called once at startup.
func InitConfig() {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/courtcrawler/")
	viper.AddConfigPath("$HOME/.courtcrawler")

	viper.SetDefault("log.development", false)

	// Crawl pipeline defaults.
	viper.SetDefault("crawler.days_back", 30)
	viper.SetDefault("crawler.batch_size", 200)
	viper.SetDefault("crawler.request_timeout", "30s")
	viper.SetDefault("crawler.search_delay", "2s")
	viper.SetDefault("crawler.detail_concurrency", 4)
	viper.SetDefault("crawler.download_concurrency", 10)
	viper.SetDefault("crawler.download_delay", "2s")
	viper.SetDefault("crawler.user_agent", "CourtCrawler/1.0")
	// Document endpoints reject default client signatures, so downloads go
	// out with a desktop browser User-Agent.
	viper.SetDefault("crawler.browser_user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	viper.SetDefault("crawler.data_dir", "data")
	viper.SetDefault("crawler.session_prime_enabled", false)
	viper.SetDefault("crawler.session_prime_timeout", "45s")

	// CAPTCHA oracle.
	viper.SetDefault("captcha.provider", "2captcha")
	viper.SetDefault("captcha.max_retries", 3)
	viper.SetDefault("captcha.poll_interval", "5s")
	viper.SetDefault("captcha.timeout", "180s")

	// Storage / database / queue providers.
	viper.SetDefault("storage.provider", "local")
	viper.SetDefault("storage.local.dir", "data/documents")
	viper.SetDefault("database.provider", "memory")
	viper.SetDefault("database.postgres.max_conns", 4)
	viper.SetDefault("queue.provider", "noop")

	// Status API.
	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.addr", ":8080")

	viper.SetEnvPrefix("COURTCRAWLER") // e.g. COURTCRAWLER_CAPTCHA_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
