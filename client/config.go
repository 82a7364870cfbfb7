package client

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

// Config is the participant-side configuration, read from a TOML file. The
// credentials are issued by the project coordinator out of band.
type Config struct {
	ServerURL      string `toml:"server_url"`
	CompensatorURL string `toml:"compensator_url"`

	ProjectID string `toml:"project_id"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Token     string `toml:"token"`

	ResultDir string `toml:"result_dir"`
	LogDir    string `toml:"log_dir"`

	// InquiryPeriod is the sleep between polls; the timeouts bound single
	// HTTP calls of the respective kind.
	InquiryPeriod   time.Duration `toml:"inquiry_period"`
	InquiryTimeout  time.Duration `toml:"inquiry_timeout"`
	UploadTimeout   time.Duration `toml:"upload_timeout"`
	DownloadTimeout time.Duration `toml:"download_timeout"`
}

const (
	defInquiryPeriod   = 5 * time.Second
	defInquiryTimeout  = 60 * time.Second
	defUploadTimeout   = 600 * time.Second
	defDownloadTimeout = 600 * time.Second
)

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()

	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.InquiryPeriod == 0 {
		c.InquiryPeriod = defInquiryPeriod
	}
	if c.InquiryTimeout == 0 {
		c.InquiryTimeout = defInquiryTimeout
	}
	if c.UploadTimeout == 0 {
		c.UploadTimeout = defUploadTimeout
	}
	if c.DownloadTimeout == 0 {
		c.DownloadTimeout = defDownloadTimeout
	}
}

func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("missing server URL")
	}
	if c.ProjectID == "" {
		return errors.New("missing project id")
	}
	if c.Username == "" {
		return errors.New("missing username")
	}
	if c.Token == "" {
		return errors.New("missing token")
	}

	return nil
}
