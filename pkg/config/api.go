package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment   string
	Addr          string
	LogLevel      string
	StoreDriver   string
	DatabaseURL   string
	MigrationsDir string
	StagingDir    string
	ChannelsFile  string

	JobTimeout        time.Duration
	PollMaxAttempts   int
	PollInterval      time.Duration
	VendorHTTPTimeout time.Duration

	RedisAddr     string
	RedisPass     string
	RedisDB       int
	EventsChannel string

	RateLimitSubmit    int
	CORSAllowedOrigins []string

	ReaperInterval   time.Duration
	ReaperStaleAfter time.Duration

	CredentialsProvider string
	AWSSecretsPrefix    string
	AWSRegion           string
	AWSEndpoint         string
	CredentialsKey      string

	WebhookURL   string
	WebhookToken string

	PlayBaseURL          string
	PlayUploadURL        string
	GoogleTokenURL       string
	AppStoreBaseURL      string
	AppStoreUploadCmd    string
	AppDistributionURL   string
	ObjectStoreEndpoint  string
	ObjectStoreUseSSL    bool
	ObjectStorePublicURL string
	GitHubAPIURL         string
	GitHubGitURL         string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	jobTimeout := GetSeconds("JOB_TIMEOUT_SECONDS", 3600)
	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		LogLevel:      GetString("LOG_LEVEL", "info"),
		StoreDriver:   GetString("STORE_DRIVER", "memory"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://shipit:shipit@db:5432/shipit?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		StagingDir:    GetString("STAGING_DIR", "/var/lib/shipit/staging"),
		ChannelsFile:  GetString("CHANNELS_FILE", ""),

		JobTimeout:        jobTimeout,
		PollMaxAttempts:   GetInt("POLL_MAX_ATTEMPTS", 60),
		PollInterval:      GetSeconds("POLL_INTERVAL_SECONDS", 30),
		VendorHTTPTimeout: GetSeconds("VENDOR_HTTP_TIMEOUT_SECONDS", 120),

		RedisAddr:     GetString("REDIS_ADDR", ""),
		RedisPass:     GetString("REDIS_PASSWORD", ""),
		RedisDB:       GetInt("REDIS_DB", 0),
		EventsChannel: GetString("EVENTS_CHANNEL", "shipit:job-events"),

		RateLimitSubmit:    GetInt("RATE_LIMIT_SUBMIT", 30),
		CORSAllowedOrigins: GetList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		ReaperInterval:   GetSeconds("REAPER_INTERVAL_SECONDS", 60),
		ReaperStaleAfter: GetSeconds("REAPER_STALE_AFTER_SECONDS", int(2*jobTimeout/time.Second)),

		CredentialsProvider: GetString("CREDENTIALS_PROVIDER", "env"),
		AWSSecretsPrefix:    GetString("AWS_SECRETS_PREFIX", "shipit/"),
		AWSRegion:           GetString("AWS_REGION", ""),
		AWSEndpoint:         GetString("AWS_ENDPOINT", ""),
		CredentialsKey:      GetString("CREDENTIALS_KEY", ""),

		WebhookURL:   GetString("WEBHOOK_URL", ""),
		WebhookToken: GetString("WEBHOOK_TOKEN", ""),

		PlayBaseURL:          GetString("PLAY_BASE_URL", "https://androidpublisher.googleapis.com"),
		PlayUploadURL:        GetString("PLAY_UPLOAD_URL", "https://androidpublisher.googleapis.com/upload"),
		GoogleTokenURL:       GetString("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		AppStoreBaseURL:      GetString("APP_STORE_BASE_URL", "https://api.appstoreconnect.apple.com"),
		AppStoreUploadCmd:    GetString("APP_STORE_UPLOAD_COMMAND", "xcrun altool --upload-app --type ios"),
		AppDistributionURL:   GetString("APP_DISTRIBUTION_URL", "https://firebaseappdistribution.googleapis.com"),
		ObjectStoreEndpoint:  GetString("OBJECT_STORE_ENDPOINT", "s3.amazonaws.com"),
		ObjectStoreUseSSL:    GetBool("OBJECT_STORE_USE_SSL", true),
		ObjectStorePublicURL: GetString("OBJECT_STORE_PUBLIC_URL", ""),
		GitHubAPIURL:         GetString("GITHUB_API_URL", "https://api.github.com"),
		GitHubGitURL:         GetString("GITHUB_GIT_URL", "https://github.com"),
	}
}
