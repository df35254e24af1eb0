package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	mysqlp "github.com/bryanwahyu/brainvol/internal/infra/db/mysql"
	"github.com/bryanwahyu/brainvol/internal/infra/db/postgres"
)

type Config struct {
	Server struct {
		Port        int               `yaml:"port"`
		APIKeys     map[string]string `yaml:"apiKeys"`
		CORSOrigins []string          `yaml:"corsOrigins"`
		RateLimit   int               `yaml:"rateLimit"` // requests per second per client
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // sqlite | mysql | postgres
		Path     string `yaml:"path"`   // sqlite file
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Data struct {
		RawDir      string `yaml:"rawDir"`
		SubjectsDir string `yaml:"subjectsDir"`
		FeaturesCSV string `yaml:"featuresCsv"`
		AnalysesDir string `yaml:"analysesDir"`
	} `yaml:"data"`

	Watcher struct {
		Enabled     bool          `yaml:"enabled"`
		Interval    time.Duration `yaml:"interval"`
		Recursive   bool          `yaml:"recursive"`
		Extensions  []string      `yaml:"extensions"`
		MarkOrphans bool          `yaml:"markOrphans"`
	} `yaml:"watcher"`

	Segmentation struct {
		Mode           string        `yaml:"mode"` // local | docker
		Command        string        `yaml:"command"`
		Args           []string      `yaml:"args"`
		FreesurferHome string        `yaml:"freesurferHome"`
		Image          string        `yaml:"image"`
		LicensePath    string        `yaml:"licensePath"`
		Concurrency    int           `yaml:"concurrency"`
		Timeout        time.Duration `yaml:"timeout"`
		AutoAggregate  bool          `yaml:"autoAggregate"`
		OutputLimit    int           `yaml:"outputLimit"`
	} `yaml:"segmentation"`

	Jobs struct {
		// LeaseTTL is how long a silent process keeps its segmentation jobs
		// and analysis runs before another process may recover them.
		LeaseTTL time.Duration `yaml:"leaseTtl"`
	} `yaml:"jobs"`

	Analysis struct {
		Alpha      float64 `yaml:"alpha"`
		Correction string  `yaml:"correction"`
		Chart      bool    `yaml:"chart"`
	} `yaml:"analysis"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`
}

// Load baca file config.yaml, isi default, lalu validasi
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config that runs locally against sqlite.
func Default() *Config {
	var c Config
	c.Server.Port = 8080
	c.Database.Driver = "sqlite"
	c.Database.Path = "brainvol.db"
	c.Data.RawDir = "data/raw"
	c.Data.SubjectsDir = "data/subjects"
	c.Data.FeaturesCSV = "data/users_features.csv"
	c.Data.AnalysesDir = "data/analyses"
	c.Watcher.Enabled = true
	c.Watcher.Interval = 30 * time.Second
	c.Watcher.Extensions = []string{".nii", ".nii.gz", ".mgz"}
	c.Watcher.MarkOrphans = true
	c.Segmentation.Mode = "local"
	c.Segmentation.Concurrency = 1
	c.Segmentation.AutoAggregate = true
	c.Jobs.LeaseTTL = 2 * time.Minute
	c.Analysis.Alpha = 0.05
	c.Analysis.Correction = "fdr_bh"
	c.Analysis.Chart = true
	return &c
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.host and database.name are required for %s", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of sqlite, mysql, postgres", c.Database.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Data.RawDir == "" || c.Data.SubjectsDir == "" {
		errs = append(errs, errors.New("data.rawDir and data.subjectsDir are required"))
	}
	if c.Watcher.Interval <= 0 {
		errs = append(errs, errors.New("watcher.interval must be positive"))
	}
	if c.Segmentation.Mode != "local" && c.Segmentation.Mode != "docker" {
		errs = append(errs, fmt.Errorf("segmentation.mode %q is not one of local, docker", c.Segmentation.Mode))
	}
	if c.Segmentation.Concurrency < 1 {
		errs = append(errs, errors.New("segmentation.concurrency must be at least 1"))
	}
	if c.Segmentation.Timeout < 0 {
		errs = append(errs, errors.New("segmentation.timeout must not be negative"))
	}
	if c.Jobs.LeaseTTL < time.Second {
		errs = append(errs, errors.New("jobs.leaseTtl must be at least 1s"))
	}
	if c.Analysis.Alpha <= 0 || c.Analysis.Alpha >= 1 {
		errs = append(errs, fmt.Errorf("analysis.alpha %g must be in (0,1)", c.Analysis.Alpha))
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucketName are required when minio is enabled"))
	}
	return errors.Join(errs...)
}

// DSN builds the driver-specific connection string; for sqlite it is the file path.
func (c *Config) DSN() string {
	d := c.Database
	switch d.Driver {
	case "mysql":
		if d.Port == 0 {
			d.Port = 3306
		}
		return mysqlp.DSN(d.Host, d.Port, d.User, d.Password, d.Name)
	case "postgres":
		if d.Port == 0 {
			d.Port = 5432
		}
		return postgres.DSN(d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	}
	return d.Path
}
