package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"iapkeeper/internal/models"
	"iapkeeper/internal/network"
	"iapkeeper/internal/notify"
	"iapkeeper/internal/platform/appstore"
	"iapkeeper/internal/platform/googleplay"
	"iapkeeper/internal/store"
	"iapkeeper/internal/vault"
)

const (
	PlatformSandbox    = "sandbox"
	PlatformAppStore   = "appstore"
	PlatformGooglePlay = "googleplay"
)

type Config struct {
	Server struct {
		Address        string   `yaml:"address" env:"IAP_ADDR"`
		AllowedOrigins []string `yaml:"allowed_origins" env:"IAP_ALLOWED_ORIGINS" envSeparator:","`
		// AdminSecret signs operator tokens; admin routes are off without it.
		AdminSecret    string        `yaml:"admin_secret" env:"IAP_ADMIN_SECRET"`
		ResyncInterval time.Duration `yaml:"resync_interval" env:"IAP_RESYNC_INTERVAL"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" env:"IAP_LOG_LEVEL"`
		Format string `yaml:"format" env:"IAP_LOG_FORMAT"`
	} `yaml:"log"`
	// Namespace prefixes the persisted snapshot keys.
	Namespace string `yaml:"namespace" env:"IAP_NAMESPACE"`

	Store store.Config `yaml:"store"`

	Vault    vault.Config `yaml:"vault"`
	Platform struct {
		Kind          string `yaml:"kind" env:"IAP_PLATFORM"`
		SandboxSecret string `yaml:"sandbox_secret" env:"IAP_SANDBOX_SECRET"`
		// RootCertFile holds the App Store signing root, AppleRootCA-G3.cer.
		RootCertFile string `yaml:"root_cert_file" env:"APPLE_ROOT_CERT_FILE"`
		// Customer is any transaction id of the customer whose history
		// backs the App Store platform.
		Customer string `yaml:"customer" env:"APPLE_CUSTOMER_TRANSACTION_ID"`
	} `yaml:"platform"`
	AppStore   appstore.ClientConfig `yaml:"appstore"`
	GooglePlay googleplay.Config     `yaml:"googleplay"`
	Journal    struct {
		Driver string `yaml:"driver" env:"IAP_JOURNAL_DRIVER"`
		DSN    string `yaml:"dsn" env:"IAP_JOURNAL_DSN"`
	} `yaml:"journal"`
	FCM      notify.Config  `yaml:"fcm"`
	Network  network.Config `yaml:"network"`
	Products []Product      `yaml:"products"`
}

// Product is one catalog entry.
type Product struct {
	ID           string `yaml:"id"`
	Kind         string `yaml:"kind"`
	DisplayName  string `yaml:"display_name"`
	DisplayPrice string `yaml:"display_price"`
	PriceMinor   int64  `yaml:"price_minor"`
	Currency     string `yaml:"currency"`
	Period       string `yaml:"period"`
}

// Load reads .env, then the YAML file at path (if any), then environment
// overrides, and fills defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":4001"
	}
	if c.Server.ResyncInterval <= 0 {
		c.Server.ResyncInterval = time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Namespace == "" {
		c.Namespace = "iap"
	}
	if c.Platform.Kind == "" {
		c.Platform.Kind = PlatformSandbox
	}
	if c.Platform.SandboxSecret == "" && c.Platform.Kind == PlatformSandbox {
		c.Platform.SandboxSecret = "sandbox-secret"
	}
	c.Store = c.Store.WithDefaults()
}

func (c Config) Validate() error {
	switch c.Platform.Kind {
	case PlatformSandbox:
	case PlatformAppStore:
		if c.Platform.RootCertFile == "" {
			return errors.New("config: platform.root_cert_file is required for appstore")
		}
	case PlatformGooglePlay:
		if c.GooglePlay.PackageName == "" {
			return errors.New("config: googleplay.package_name is required")
		}
	default:
		return fmt.Errorf("config: unknown platform %q", c.Platform.Kind)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("config: store: %w", err)
	}
	if _, _, err := c.Catalog(); err != nil {
		return err
	}
	for id, period := range c.Subscriptions() {
		if period.WeeksPerPeriod() == 0 {
			return fmt.Errorf("config: product %q: unknown period %q", id, period)
		}
	}
	return nil
}

// Catalog converts the configured products into catalog entries and the
// purchasables to register.
func (c Config) Catalog() ([]models.Product, []models.Purchasable, error) {
	products := make([]models.Product, 0, len(c.Products))
	items := make([]models.Purchasable, 0, len(c.Products))
	seen := make(map[string]bool, len(c.Products))
	for i, p := range c.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, nil, fmt.Errorf("config: products[%d]: id is required", i)
		}
		if seen[id] {
			return nil, nil, fmt.Errorf("config: duplicate product %q", id)
		}
		seen[id] = true
		kind, err := models.ParseProductKind(p.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("config: product %q: %w", id, err)
		}
		cur := strings.ToUpper(strings.TrimSpace(p.Currency))
		if cur == "" {
			cur = "USD"
		}
		name := p.DisplayName
		if name == "" {
			name = id
		}
		products = append(products, models.Product{
			ID:           id,
			DisplayName:  name,
			DisplayPrice: p.DisplayPrice,
			PriceMinor:   p.PriceMinor,
			Currency:     cur,
			Kind:         kind,
		})
		items = append(items, models.Purchasable{BundleID: id, Kind: kind})
	}
	return products, items, nil
}

// Subscriptions returns the configured subscription periods by product id.
func (c Config) Subscriptions() map[string]models.SubscriptionPeriod {
	out := make(map[string]models.SubscriptionPeriod)
	for _, p := range c.Products {
		if p.Period != "" {
			out[strings.TrimSpace(p.ID)] = models.SubscriptionPeriod(strings.ToLower(p.Period))
		}
	}
	return out
}
