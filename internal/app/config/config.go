// Package config は YAML ファイルと環境変数から設定を読み込みます。
// 環境変数は常に YAML の値を上書きします。パスワードやセッション JWT は環境変数からのみ読み込みます。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config はアプリケーション全体の設定です。
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Job      JobConfig      `yaml:"job"`
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`

	// BrandsFile は {"brands": [...]} 形式の JSON です。存在しない場合は BrandsList を使います。
	BrandsFile string `yaml:"brands_file" env:"BRANDS_CONFIG" env-default:"brands_config.json"`
	// BrandsList は "ketogo.app|KetoGo,simple-life-app.com|Simple Life App" 形式です。
	BrandsList string `yaml:"brands_list" env:"BRANDS_LIST" env-default:""`

	Brands []Brand `yaml:"-"`
}

type DatabaseConfig struct {
	URL      string `yaml:"-" env:"DATABASE_URL"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	Name     string `yaml:"name" env:"DB_NAME" env-default:"trustpilot"`
	User     string `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password string `yaml:"-" env:"DB_PASS"`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSLMODE" env-default:"disable"`

	ConnectRetries  int           `yaml:"connect_retries" env:"DB_CONNECT_RETRIES" env-default:"10"`
	ConnectInterval time.Duration `yaml:"connect_interval" env:"DB_CONNECT_INTERVAL" env-default:"5s"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"10"`
}

// DSN は DATABASE_URL が設定されていればそれを、なければ個別の値から URL を組み立てます。
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// SourceConfig は Trustpilot 取得の設定です。
type SourceConfig struct {
	BaseURL     string        `yaml:"base_url" env:"TRUSTPILOT_BASE_URL" env-default:"https://www.trustpilot.com"`
	JWT         string        `yaml:"-" env:"TRUSTPILOT_JWT"`
	UserAgent   string        `yaml:"user_agent" env:"TRUSTPILOT_USER_AGENT" env-default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"TRUSTPILOT_HTTP_TIMEOUT" env-default:"30s"`
	// MaxPages は 0 の場合無制限 (404 か空ページまで) です。
	MaxPages      int           `yaml:"max_pages" env:"TRUSTPILOT_MAX_PAGES" env-default:"0"`
	PageInterval  time.Duration `yaml:"page_interval" env:"TRUSTPILOT_PAGE_INTERVAL" env-default:"2s"`
	MaxRetries    int           `yaml:"max_retries" env:"TRUSTPILOT_MAX_RETRIES" env-default:"3"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"TRUSTPILOT_RETRY_INTERVAL" env-default:"5s"`
	BatchSize     int           `yaml:"batch_size" env:"TRUSTPILOT_BATCH_SIZE" env-default:"50"`
	// EarlyStopPages 回連続で未知のレビューが無ければ差分取得を打ち切ります。
	EarlyStopPages int `yaml:"early_stop_pages" env:"TRUSTPILOT_EARLY_STOP_PAGES" env-default:"2"`
}

// SheetsConfig はレポート出力先の設定です。
type SheetsConfig struct {
	FolderID        string        `yaml:"folder_id" env:"GOOGLE_DRIVE_FOLDER_ID"`
	CredentialsPath string        `yaml:"credentials" env:"GOOGLE_SHEETS_CREDENTIALS"`
	SpreadsheetName string        `yaml:"spreadsheet_name" env:"MASTER_SPREADSHEET_NAME" env-default:"Trustpilot Report"`
	Tab             string        `yaml:"tab" env:"SHEETS_TAB" env-default:"raw_data"`
	Timeout         time.Duration `yaml:"timeout" env:"SHEETS_TIMEOUT" env-default:"60s"`
	SortDescending  bool          `yaml:"sort_descending" env:"SHEETS_SORT_DESCENDING" env-default:"true"`
}

type JobConfig struct {
	Workers  int    `yaml:"workers" env:"JOB_WORKERS" env-default:"1"`
	Schedule string `yaml:"schedule" env:"SCHEDULE" env-default:"0 0 * * 1"`
	// ThemeLimit はレポートに載せるテーマ数です。
	ThemeLimit int `yaml:"theme_limit" env:"JOB_THEME_LIMIT" env-default:"3"`
}

type LogConfig struct {
	Mode  string `yaml:"mode" env:"LOG_MODE" env-default:"dev"`
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type APIConfig struct {
	Port string `yaml:"port" env:"API_PORT" env-default:"8080"`
}

// Brand は監視対象ブランドです。Domain は Trustpilot 上のドメイン、Name は表示名です。
type Brand struct {
	Domain string `json:"domain" yaml:"domain"`
	Name   string `json:"name" yaml:"name"`
}

// Load は path (空なら config.yaml) を読み込みます。ファイルが無い場合は環境変数のみを使います。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	brands, err := LoadBrands(cfg.BrandsFile, cfg.BrandsList)
	if err != nil {
		return nil, err
	}
	cfg.Brands = brands
	return cfg, nil
}

// ValidateSheets はシート出力に必要な値が揃っているかを確認します。
func (c *Config) ValidateSheets() error {
	var missing []string
	if c.Sheets.FolderID == "" {
		missing = append(missing, "GOOGLE_DRIVE_FOLDER_ID")
	}
	if c.Sheets.CredentialsPath == "" {
		missing = append(missing, "GOOGLE_SHEETS_CREDENTIALS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

type brandsFile struct {
	Brands []Brand `json:"brands"`
}

// LoadBrands は JSON ファイルを優先し、無ければ list 文字列からブランド一覧を作ります。
func LoadBrands(file, list string) ([]Brand, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		switch {
		case err == nil:
			var bf brandsFile
			if err := json.Unmarshal(data, &bf); err != nil {
				return nil, fmt.Errorf("invalid brands config %s: %w", file, err)
			}
			return validateBrands(bf.Brands, file)
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read brands config %s: %w", file, err)
		}
	}

	if strings.TrimSpace(list) == "" {
		return nil, errors.New("no brands configured: create brands_config.json ({\"brands\": [{\"domain\": \"ketogo.app\", \"name\": \"KetoGo\"}]}) or set BRANDS_LIST=ketogo.app|KetoGo")
	}
	var brands []Brand
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		domain, name, found := strings.Cut(item, "|")
		domain = strings.TrimSpace(domain)
		if !found {
			name = domain
		}
		brands = append(brands, Brand{Domain: domain, Name: strings.TrimSpace(name)})
	}
	return validateBrands(brands, "BRANDS_LIST")
}

func validateBrands(brands []Brand, source string) ([]Brand, error) {
	if len(brands) == 0 {
		return nil, fmt.Errorf("no brands in %s", source)
	}
	seen := make(map[string]bool, len(brands))
	for i, b := range brands {
		if b.Domain == "" {
			return nil, fmt.Errorf("brand #%d in %s has no domain", i+1, source)
		}
		if b.Name == "" {
			brands[i].Name = b.Domain
		}
		if seen[b.Domain] {
			return nil, fmt.Errorf("duplicate brand domain %q in %s", b.Domain, source)
		}
		seen[b.Domain] = true
	}
	return brands, nil
}
