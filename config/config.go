package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"heads-or-tails/utils"

	tml "github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// EnvConfigPath names the environment variable holding the TOML file path.
const EnvConfigPath = "COINFLIP_CONFIG"

type Config struct {
	HTTP     HTTP     `toml:"http"`
	Database Database `toml:"database"`
	Ledger   Ledger   `toml:"ledger"`
	Game     Game     `toml:"game"`
	Cleaner  Cleaner  `toml:"cleaner"`
	Log      Log      `toml:"log"`
	Archive  Archive  `toml:"archive"`
}

type HTTP struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	ServiceToken   string   `toml:"service_token"`
}

type Database struct {
	URL string `toml:"url"`
}

type Ledger struct {
	URL          string   `toml:"url"`
	Token        string   `toml:"token"`
	PollInterval Duration `toml:"poll_interval"`
	BatchSize    int      `toml:"batch_size"`
	Timeout      Duration `toml:"timeout"`
}

// Game holds the wager rules. Stakes are whole-coin decimals ("0.5"); zero
// MaxStake means unbounded.
type Game struct {
	MinStake           string   `toml:"min_stake"`
	MaxStake           string   `toml:"max_stake"`
	UnitDecimals       int32    `toml:"unit_decimals"`
	RevealTimeout      Duration `toml:"reveal_timeout"`
	Admins             []string `toml:"admins"`
	InitializedForfeit bool     `toml:"initialized_forfeit"`
}

type Cleaner struct {
	Interval Duration `toml:"interval"` // 0 disables the scheduled run
}

type Log struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Archive points at the S3-compatible bucket (Cloudflare R2) where ended games
// are written before the cleaner purges them. Empty Bucket disables archiving.
type Archive struct {
	AccountID       string `toml:"account_id"`
	AccessKeyID     string `toml:"access_key_id"`
	AccessKeySecret string `toml:"access_key_secret"`
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
}

// Duration reads "60s"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		HTTP: HTTP{
			Addr:           ":5200",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Ledger: Ledger{
			PollInterval: Duration{10 * time.Second},
			BatchSize:    50,
			Timeout:      Duration{10 * time.Second},
		},
		Game: Game{
			MinStake:      "0.01",
			UnitDecimals:  utils.DefaultUnitDecimals,
			RevealTimeout: Duration{time.Minute},
		},
		Cleaner: Cleaner{Interval: Duration{time.Hour}},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 28,
		},
	}
}

// Load reads .env (if present), then the TOML file (if any), then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if _, err := tml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "decode config %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	dur := func(key string, dst *Duration) error {
		if v, ok := lookup(key); ok && v != "" {
			p, err := time.ParseDuration(v)
			if err != nil {
				return errors.Wrapf(err, "parse %s", key)
			}
			dst.Duration = p
		}
		return nil
	}

	str("HTTP_ADDR", &c.HTTP.Addr)
	list("ALLOWED_ORIGINS", &c.HTTP.AllowedOrigins)
	str("GAME_SERVICE_TOKEN", &c.HTTP.ServiceToken)
	str("DATABASE_URL", &c.Database.URL)
	str("LEDGER_URL", &c.Ledger.URL)
	str("LEDGER_TOKEN", &c.Ledger.Token)
	str("MIN_STAKE", &c.Game.MinStake)
	str("MAX_STAKE", &c.Game.MaxStake)
	list("ADMIN_USER_IDS", &c.Game.Admins)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	str("CLOUDFLARE_ACCOUNT_ID", &c.Archive.AccountID)
	str("R2_ACCESS_KEY_ID", &c.Archive.AccessKeyID)
	str("R2_ACCESS_KEY_SECRET", &c.Archive.AccessKeySecret)
	str("R2_BUCKET_NAME", &c.Archive.Bucket)

	if err := dur("REVEAL_TIMEOUT", &c.Game.RevealTimeout); err != nil {
		return err
	}
	if err := dur("CLEANER_INTERVAL", &c.Cleaner.Interval); err != nil {
		return err
	}
	if v, ok := lookup("INITIALIZED_FORFEIT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "parse INITIALIZED_FORFEIT")
		}
		c.Game.InitializedForfeit = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if c.HTTP.ServiceToken == "" {
		return errors.New("GAME_SERVICE_TOKEN is not set")
	}
	if c.Game.RevealTimeout.Duration <= 0 {
		return errors.Errorf("reveal timeout must be positive, got %s", c.Game.RevealTimeout)
	}
	if c.Cleaner.Interval.Duration < 0 {
		return errors.Errorf("cleaner interval must not be negative, got %s", c.Cleaner.Interval)
	}
	if c.Game.UnitDecimals < 0 || c.Game.UnitDecimals > 18 {
		return errors.Errorf("unit_decimals out of range: %d", c.Game.UnitDecimals)
	}
	lo, err := c.Game.MinStakeUnits()
	if err != nil {
		return err
	}
	hi, err := c.Game.MaxStakeUnits()
	if err != nil {
		return err
	}
	if hi != 0 && lo > hi {
		return errors.Errorf("min_stake %s above max_stake %s", c.Game.MinStake, c.Game.MaxStake)
	}
	return nil
}

func (g Game) MinStakeUnits() (uint64, error) {
	if g.MinStake == "" {
		return 0, nil
	}
	v, err := utils.ParseUnits(g.MinStake, g.UnitDecimals)
	return v, errors.Wrap(err, "min_stake")
}

func (g Game) MaxStakeUnits() (uint64, error) {
	if g.MaxStake == "" {
		return 0, nil
	}
	v, err := utils.ParseUnits(g.MaxStake, g.UnitDecimals)
	return v, errors.Wrap(err, "max_stake")
}
