package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Constants for default values
const (
	DefaultSegmentSize      = 512
	DefaultMaxRetries       = 5
	DefaultErrorProbability = 0.30
	DefaultMinFileSize      = 2000
	DefaultAckTimeout       = 5 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultConnectRetries   = 3
	DefaultBufferSize       = 4 * 1024
	DefaultListenAddr       = "0.0.0.0:12345"
	DefaultServerAddr       = "localhost:12345"
	DefaultWebAddr          = "localhost:5000"
	DefaultStorageDir       = "./storage"
	DefaultDownloadDir      = "./downloads"

	// File system constants
	LogDirPerms  = 0755
	FilePerms    = 0644
	MaxUploadMiB = 64
)

// Config holds all configuration parameters for the application
type Config struct {
	// Server mode settings
	IsServer      bool   `yaml:"server"`
	ListenAddress string `yaml:"listen_address"`
	StorageDir    string `yaml:"storage_dir"`

	// Client mode settings
	ServerAddress string `yaml:"server_address"`
	Filename      string `yaml:"filename"`
	DownloadDir   string `yaml:"download_dir"`

	// Web front end settings
	IsWeb      bool   `yaml:"web"`
	WebAddress string `yaml:"web_address"`

	// Protocol parameters
	SegmentSize      int           `yaml:"segment_size"`
	MaxRetries       int           `yaml:"max_retries"`
	ErrorProbability float64       `yaml:"error_probability"`
	MinFileSize      int64         `yaml:"min_file_size"`
	AckTimeout       time.Duration `yaml:"ack_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ConnectRetries   int           `yaml:"connect_retries"`
	BufferSize       int           `yaml:"buffer_size"`
	ShowProgress     bool          `yaml:"show_progress"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		ListenAddress:    DefaultListenAddr,
		StorageDir:       DefaultStorageDir,
		ServerAddress:    DefaultServerAddr,
		DownloadDir:      DefaultDownloadDir,
		WebAddress:       DefaultWebAddr,
		SegmentSize:      DefaultSegmentSize,
		MaxRetries:       DefaultMaxRetries,
		ErrorProbability: DefaultErrorProbability,
		MinFileSize:      DefaultMinFileSize,
		AckTimeout:       DefaultAckTimeout,
		ConnectTimeout:   DefaultConnectTimeout,
		ConnectRetries:   DefaultConnectRetries,
		BufferSize:       DefaultBufferSize,
		ShowProgress:     true,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SegmentSize <= 0 {
		return fmt.Errorf("segment size must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.ErrorProbability < 0 || c.ErrorProbability > 1 {
		return fmt.Errorf("error probability must be between 0.0 and 1.0")
	}
	if c.MinFileSize < 0 {
		return fmt.Errorf("minimum file size cannot be negative")
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("ack timeout must be positive")
	}
	if c.ConnectRetries <= 0 {
		return fmt.Errorf("connect retries must be positive")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.IsServer && c.IsWeb {
		return fmt.Errorf("server and web modes are mutually exclusive")
	}
	if !c.IsServer && !c.IsWeb && c.Filename == "" {
		return fmt.Errorf("filename is required in client mode")
	}
	return nil
}

// LoadFile reads YAML configuration from path into cfg. Missing keys
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ParseFlags parses command line arguments and returns a Config. A
// -config file is applied first; explicitly set flags override it.
func ParseFlags() (*Config, error) {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	defaults := Default()

	configPath := fs.String("config", "", "Path to YAML configuration file")

	// Mode flags
	isServer := fs.Bool("server", false, "Run in server mode (serve files)")
	isWeb := fs.Bool("web", false, "Run the web front end")

	// Server flags
	listenAddr := fs.String("listen", defaults.ListenAddress, "Address to listen on (server mode)")
	storageDir := fs.String("storage", defaults.StorageDir, "Directory of served files (server mode)")

	// Client flags
	serverAddr := fs.String("connect", defaults.ServerAddress, "Server address to connect to")
	filename := fs.String("file", "", "File to request (client mode)")
	downloadDir := fs.String("downloads", defaults.DownloadDir, "Directory for received files")

	// Web flags
	webAddr := fs.String("web-listen", defaults.WebAddress, "Address for the web front end")

	// Protocol flags
	segmentSize := fs.Int("segment", defaults.SegmentSize, "Segment size in bytes")
	maxRetries := fs.Int("retries", defaults.MaxRetries, "Transmission attempts per segment before abort")
	errorProb := fs.Float64("error-probability", defaults.ErrorProbability, "Probability of simulated corruption (0.0-1.0)")
	minFileSize := fs.Int64("min-size", defaults.MinFileSize, "Minimum servable file size in bytes")
	ackTimeout := fs.Duration("ack-timeout", defaults.AckTimeout, "Time to wait for a segment verdict")
	connectRetries := fs.Int("connect-retries", defaults.ConnectRetries, "Connection attempts before giving up")
	bufferSize := fs.Int("buffer", defaults.BufferSize, "Connection buffer size in bytes")
	showProgress := fs.Bool("progress", true, "Show progress during transfer")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configPath != "" {
		if err := LoadFile(*configPath, cfg); err != nil {
			return nil, err
		}
	}

	// Explicitly set flags win over file values
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	apply := func(name string, fn func()) {
		if set[name] {
			fn()
		}
	}
	apply("server", func() { cfg.IsServer = *isServer })
	apply("web", func() { cfg.IsWeb = *isWeb })
	apply("listen", func() { cfg.ListenAddress = *listenAddr })
	apply("storage", func() { cfg.StorageDir = *storageDir })
	apply("connect", func() { cfg.ServerAddress = *serverAddr })
	apply("file", func() { cfg.Filename = *filename })
	apply("downloads", func() { cfg.DownloadDir = *downloadDir })
	apply("web-listen", func() { cfg.WebAddress = *webAddr })
	apply("segment", func() { cfg.SegmentSize = *segmentSize })
	apply("retries", func() { cfg.MaxRetries = *maxRetries })
	apply("error-probability", func() { cfg.ErrorProbability = *errorProb })
	apply("min-size", func() { cfg.MinFileSize = *minFileSize })
	apply("ack-timeout", func() { cfg.AckTimeout = *ackTimeout })
	apply("connect-retries", func() { cfg.ConnectRetries = *connectRetries })
	apply("buffer", func() { cfg.BufferSize = *bufferSize })
	apply("progress", func() { cfg.ShowProgress = *showProgress })

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Mode names the active run mode.
func (c *Config) Mode() string {
	switch {
	case c.IsServer:
		return "server"
	case c.IsWeb:
		return "web"
	default:
		return "client"
	}
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	mode := "Client"
	if c.IsServer {
		mode = "Server"
	} else if c.IsWeb {
		mode = "Web"
	}

	return fmt.Sprintf("Config{Mode: %s, SegmentSize: %d, MaxRetries: %d, ErrorProbability: %.2f}",
		mode, c.SegmentSize, c.MaxRetries, c.ErrorProbability)
}
