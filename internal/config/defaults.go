package config

func Defaults() *Config {
	return &Config{
		LogLevel:     "info",
		LogFormat:    "text",
		DomainMarker: "facebook.com",
		Telegram: TelegramConfig{
			ParseMode:          "Markdown",
			PollTimeoutSeconds: 30,
		},
		Backend: BackendConfig{
			TimeoutSeconds: 45,
		},
		Redirect: RedirectConfig{
			Enabled:        true,
			TimeoutSeconds: 15,
		},
		Upload: UploadConfig{
			Mode:               UploadModeURL,
			ReadTimeoutSeconds: 120,
			FilenameStem:       "video",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
