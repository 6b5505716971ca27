package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/miwake/data"
	}
	if cfg.Storage.RetainSnapshots == 0 {
		cfg.Storage.RetainSnapshots = 2
	}
	if cfg.Storage.ItemCacheSize == 0 {
		cfg.Storage.ItemCacheSize = 2048
	}
	if cfg.Embedding.Runtime == "" {
		cfg.Embedding.Runtime = "auto"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/miwake/data/models/clip-vit-b32-visual.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.Device == "" {
		cfg.Embedding.Device = "auto"
	}
	if cfg.Embedding.InputName == "" {
		cfg.Embedding.InputName = "pixel_values"
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "image_embeds"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 10
	}
	if cfg.Search.DefaultThreshold == nil {
		t := 0.25
		cfg.Search.DefaultThreshold = &t
	}
	if cfg.Search.IndexType == "" {
		cfg.Search.IndexType = "flat"
	}
	if cfg.Guard.MaxFileSizeMB == 0 {
		cfg.Guard.MaxFileSizeMB = 10
	}
	if cfg.Guard.MaxURLLength == 0 {
		cfg.Guard.MaxURLLength = 2048
	}
	if cfg.Guard.FetchTimeoutSeconds == 0 {
		cfg.Guard.FetchTimeoutSeconds = 10
	}
	if cfg.Guard.MaxRedirects == 0 {
		cfg.Guard.MaxRedirects = 5
	}
	if cfg.Guard.AllowedMIMETypes == nil {
		cfg.Guard.AllowedMIMETypes = []string{"image/jpeg", "image/jpg", "image/png", "image/webp"}
	}
	if cfg.Guard.BlockedExtensions == nil {
		cfg.Guard.BlockedExtensions = []string{
			".exe", ".bat", ".cmd", ".sh", ".ps1", ".php", ".jsp", ".asp",
			".js", ".jar", ".war", ".py", ".rb", ".pl", ".cgi",
		}
	}
	if cfg.Builder.BatchSize == 0 {
		cfg.Builder.BatchSize = 32
	}
	if cfg.Builder.Workers == 0 {
		cfg.Builder.Workers = 4
	}
	if cfg.Builder.DefaultCategory == "" {
		cfg.Builder.DefaultCategory = "general"
	}
	if cfg.Builder.Extensions == nil {
		cfg.Builder.Extensions = []string{".jpg", ".jpeg", ".png", ".webp"}
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 2000
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}
