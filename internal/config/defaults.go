package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8732
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kensaku/data/db/documents.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/kensaku/data/indices/bleve"
	}
	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = EngineBleve
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 200
	}
	if cfg.Search.TitleBoost == 0 {
		cfg.Search.TitleBoost = 2.0
	}
	if cfg.Search.ContentBoost == 0 {
		cfg.Search.ContentBoost = 1.0
	}
	if cfg.Search.TagsBoost == 0 {
		cfg.Search.TagsBoost = 1.5
	}
	if cfg.Search.RecencyWeight == 0 {
		cfg.Search.RecencyWeight = 0.25
	}
	if cfg.Search.RecencyHalfLife == 0 {
		cfg.Search.RecencyHalfLife = 30
	}
	if cfg.Search.FuzzyDistance == 0 {
		cfg.Search.FuzzyDistance = 2
	}
	if cfg.Search.DefaultTimeoutMs == 0 {
		cfg.Search.DefaultTimeoutMs = 2000
	}
	if cfg.Search.MaxTimeoutMs == 0 {
		cfg.Search.MaxTimeoutMs = 10000
	}
	if cfg.Search.FragmentSize == 0 {
		cfg.Search.FragmentSize = 120
	}
	if cfg.Search.MaxFragments == 0 {
		cfg.Search.MaxFragments = 3
	}
	if cfg.Sync.IntervalSeconds == 0 {
		cfg.Sync.IntervalSeconds = 300
	}
	if cfg.Sync.BackoffBaseSeconds == 0 {
		cfg.Sync.BackoffBaseSeconds = 5
	}
	if cfg.Sync.BackoffCapSeconds == 0 {
		cfg.Sync.BackoffCapSeconds = 900
	}
	if cfg.Sync.MaxConsecutiveFailures == 0 {
		cfg.Sync.MaxConsecutiveFailures = 8
	}
	if cfg.Sync.BatchLimit == 0 {
		cfg.Sync.BatchLimit = 256
	}
	if cfg.Watch.ProviderID == "" {
		cfg.Watch.ProviderID = "local-files"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".odt", ".rtf", ".xlsx"}
	}
}
