// Package settings loads the running configuration from CLI flags,
// environment variables, and an optional TOML file, in that precedence
// order, via viper. SUB_URLS and PRECHECK_SITES accept either a JSON array
// string or a comma-separated string, matching the permissive list parsing
// the original tool's config layer used.
package settings

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings is the fully resolved runtime configuration.
type Settings struct {
	XrayPath       string `mapstructure:"xray_path"`
	XrayAssetsPath string `mapstructure:"xray_assets_path"`

	SubURLs     []string `mapstructure:"sub_urls"`
	SourcesFile string   `mapstructure:"sources_file"`

	LowInternetCons  bool `mapstructure:"low_internet_cons"`
	LowInternetLimit int  `mapstructure:"low_internet_limit"`

	PrecheckSites []string `mapstructure:"precheck_sites"`

	LatencyTestURL string `mapstructure:"latency_test_url"`
	BatchSize      int    `mapstructure:"batch_size"`
	BasePort       int    `mapstructure:"base_port"`
	TestTimeout    int    `mapstructure:"test_timeout"`
	MaxDelayMS     int    `mapstructure:"max_delay_ms"`

	CacheIntervalSeconds int `mapstructure:"cache_interval_seconds"`
	SiteCacheTTLSeconds  int `mapstructure:"site_cache_ttl_seconds"`

	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     int    `mapstructure:"redis_port"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPassword string `mapstructure:"redis_password"`

	GeoIPDBPath string `mapstructure:"geoip_db_path"`

	HTTPHost string `mapstructure:"http_host"`
	HTTPPort int    `mapstructure:"http_port"`

	GithubPushEnabled bool   `mapstructure:"github_push_enabled"`
	GithubToken       string `mapstructure:"github_token"`
	GithubRepoURL     string `mapstructure:"github_repo_url"`
	GithubUser        string `mapstructure:"github_user"`
	GithubEmail       string `mapstructure:"github_email"`
	GithubBranch      string `mapstructure:"github_branch"`
	GithubFilename    string `mapstructure:"github_filename"`
	GithubRepoDir     string `mapstructure:"github_repo_dir"`

	LogLevel string `mapstructure:"log_level"`
}

// TestTimeoutDuration and CacheIntervalDuration/SiteCacheTTLDuration convert
// the integer-seconds config fields into time.Duration, matching how the
// rest of the module consumes them.
func (s Settings) TestTimeoutDuration() time.Duration { return time.Duration(s.TestTimeout) * time.Second }
func (s Settings) CacheIntervalDuration() time.Duration {
	return time.Duration(s.CacheIntervalSeconds) * time.Second
}
func (s Settings) SiteCacheTTLDuration() time.Duration {
	return time.Duration(s.SiteCacheTTLSeconds) * time.Second
}

// BindFlags registers every recognized option as a CLI flag on fs, so a
// cobra command can expose them directly.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("xray-path", "/usr/local/bin/xray", "path to the xray binary")
	fs.String("xray-assets-path", "/usr/share/xray/", "xray geo asset directory")
	fs.String("sub-urls", "https://github.com/Epodonios/v2ray-configs/raw/main/Splitted-By-Protocol/vless.txt", "subscription feed URLs (comma-separated or a JSON array)")
	fs.String("sources-file", "", "optional YAML file of additional named, individually enable-able subscription feeds")
	fs.Bool("low-internet-cons", false, "cap the candidate list before probing")
	fs.Int("low-internet-limit", 50, "candidate cap when low-internet-cons is set")
	fs.String("precheck-sites", "", "sites to pre-warm the site cache for (comma-separated or a JSON array)")
	fs.String("latency-test-url", "http://www.google.com/generate_204", "HEAD target for the latency probe")
	fs.Int("batch-size", 500, "probe batch size")
	fs.Int("base-port", 20000, "first local SOCKS5 inbound port")
	fs.Int("test-timeout", 10, "per-probe timeout in seconds")
	fs.Int("max-delay-ms", 8000, "working-set cutoff in milliseconds")
	fs.Int("cache-interval-seconds", 900, "periodic refresh interval")
	fs.Int("site-cache-ttl-seconds", 3600, "per-site cache entry TTL")
	fs.String("redis-host", "localhost", "redis host")
	fs.Int("redis-port", 6379, "redis port")
	fs.Int("redis-db", 0, "redis database index")
	fs.String("redis-password", "", "redis password")
	fs.String("geoip-db-path", "Country.mmdb", "path to the GeoIP country database")
	fs.String("http-host", "0.0.0.0", "HTTP listen address")
	fs.Int("http-port", 8084, "HTTP listen port")
	fs.Bool("github-push-enabled", false, "push the working set to a git remote")
	fs.String("github-token", "", "git remote auth token")
	fs.String("github-repo-url", "", "git remote URL")
	fs.String("github-user", "V2Ray Updater", "git commit author name")
	fs.String("github-email", "bot@example.com", "git commit author email")
	fs.String("github-branch", "main", "git branch to push to")
	fs.String("github-filename", "subscription.txt", "published filename for the full working set")
	fs.String("github-repo-dir", "/app/subscription_repo", "local git working tree path")
	fs.StringP("log-level", "l", "info", "log level: trace, debug, info, warn, error")
	fs.String("config", "", "optional TOML config file")
}

// Load resolves Settings from, in precedence order, CLI flags, environment
// variables, and the optional TOML file named by --config/CONFIG.
func Load(fs *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envReplacer{})

	if err := v.BindPFlags(fs); err != nil {
		return Settings{}, fmt.Errorf("bind flags: %w", err)
	}

	if configFile := v.GetString("config"); configFile != "" {
		var fileConfig map[string]interface{}
		if _, err := toml.DecodeFile(configFile, &fileConfig); err != nil {
			return Settings{}, fmt.Errorf("decode toml config %s: %w", configFile, err)
		}
		if err := v.MergeConfigMap(fileConfig); err != nil {
			return Settings{}, fmt.Errorf("merge toml config: %w", err)
		}
	}

	subURLs := permissiveList(v.GetString("sub-urls"))
	precheckSites := permissiveList(v.GetString("precheck-sites"))

	sourcesFile := v.GetString("sources-file")
	sources, err := loadSourcesFile(sourcesFile)
	if err != nil {
		return Settings{}, err
	}
	subURLs = mergeURLs(subURLs, enabledURLs(sources))

	return Settings{
		XrayPath:             v.GetString("xray-path"),
		XrayAssetsPath:       v.GetString("xray-assets-path"),
		SubURLs:              subURLs,
		SourcesFile:          sourcesFile,
		LowInternetCons:      v.GetBool("low-internet-cons"),
		LowInternetLimit:     v.GetInt("low-internet-limit"),
		PrecheckSites:        precheckSites,
		LatencyTestURL:       v.GetString("latency-test-url"),
		BatchSize:            v.GetInt("batch-size"),
		BasePort:             v.GetInt("base-port"),
		TestTimeout:          v.GetInt("test-timeout"),
		MaxDelayMS:           v.GetInt("max-delay-ms"),
		CacheIntervalSeconds: v.GetInt("cache-interval-seconds"),
		SiteCacheTTLSeconds:  v.GetInt("site-cache-ttl-seconds"),
		RedisHost:            v.GetString("redis-host"),
		RedisPort:            v.GetInt("redis-port"),
		RedisDB:              v.GetInt("redis-db"),
		RedisPassword:        v.GetString("redis-password"),
		GeoIPDBPath:          v.GetString("geoip-db-path"),
		HTTPHost:             v.GetString("http-host"),
		HTTPPort:             v.GetInt("http-port"),
		GithubPushEnabled:    v.GetBool("github-push-enabled"),
		GithubToken:          v.GetString("github-token"),
		GithubRepoURL:        v.GetString("github-repo-url"),
		GithubUser:           v.GetString("github-user"),
		GithubEmail:          v.GetString("github-email"),
		GithubBranch:         v.GetString("github-branch"),
		GithubFilename:       v.GetString("github-filename"),
		GithubRepoDir:        v.GetString("github-repo-dir"),
		LogLevel:             v.GetString("log-level"),
	}, nil
}

// mergeURLs appends extra to base, skipping anything already present in
// either slice.
func mergeURLs(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, u := range base {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, u := range extra {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// permissiveList implements the SUB_URLS/PRECHECK_SITES validator: a JSON
// array string is tried first, falling back to a comma-separated split.
func permissiveList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			return out
		}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envReplacer maps FLAG-STYLE-NAMES (viper's dashed keys) onto
// SCREAMING_SNAKE_CASE environment variable names, e.g. "sub-urls" ->
// "SUB_URLS", matching the original option names in spec.md §6.
type envReplacer struct{}

func (envReplacer) Replace(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
}
