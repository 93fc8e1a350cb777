package devenv

// OperlogTestConfig is read from <dev_state>/operlog_config.json5 by tests that
// talk to a real operlog deployment.
type OperlogTestConfig struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	// days of history the live scrape test requests
	HistoryDays int `json:"history_days"`
}
