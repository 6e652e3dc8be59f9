package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"traj2gps/internal/fsutil"
	"traj2gps/internal/interpolate"
	"traj2gps/internal/projection"
)

const (
	defaultConfigPath = "~/.config/traj2gps/config.yaml"
	localConfigPath   = "traj2gps.yaml"
	defaultParallel   = 4
	defaultQueueSize  = 32

	// EnvConfig names the variable holding the config file path.
	EnvConfig = "TRAJ2GPS_CONFIG"
	// EnvPrefix is the prefix of override variables, e.g. TRAJ2GPS_LOGGING__LEVEL.
	EnvPrefix = "TRAJ2GPS_"
)

// Config holds user-editable settings.
type Config struct {
	Processing    Processing    `koanf:"processing" json:"processing"`
	Logging       Logging       `koanf:"logging" json:"logging"`
	Paths         Paths         `koanf:"paths" json:"paths"`
	Trajectory    Trajectory    `koanf:"trajectory" json:"trajectory"`
	Interpolation Interpolation `koanf:"interpolation" json:"interpolation"`
	Projection    Projection    `koanf:"projection" json:"projection"`
	Tools         Tools         `koanf:"tools" json:"tools"`
	Server        Server        `koanf:"server" json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int `koanf:"parallel_jobs" json:"parallel_jobs"`
	QueueSize    int `koanf:"queue_size" json:"queue_size"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `koanf:"level" json:"level"`             // debug, info, warn, error
	Format     string `koanf:"format" json:"format"`           // text, json
	FileOutput bool   `koanf:"file_output" json:"file_output"` // write daily log files
	LogDir     string `koanf:"log_dir" json:"log_dir"`
}

// Paths configures default input locations.
type Paths struct {
	DefaultInput string `koanf:"default_input" json:"default_input"`
	DatabasePath string `koanf:"database_path" json:"database_path"`
}

// Trajectory describes the CSV layout and time axis of trajectory files.
type Trajectory struct {
	TimeColumn     string  `koanf:"time_column" json:"time_column"`
	EastingColumn  string  `koanf:"easting_column" json:"easting_column"`
	NorthingColumn string  `koanf:"northing_column" json:"northing_column"`
	HeightColumn   string  `koanf:"height_column" json:"height_column"`
	TimeFormat     string  `koanf:"time_format" json:"time_format"` // gps, utc
	GPSTimeOffset  float64 `koanf:"gps_time_offset" json:"gps_time_offset"`
}

type Interpolation struct {
	Kernel string `koanf:"kernel" json:"kernel"`
}

type Projection struct {
	CRS string `koanf:"crs" json:"crs"`
}

// Tools names the external executables.
type Tools struct {
	Exiftool       string `koanf:"exiftool" json:"exiftool"`
	DDB            string `koanf:"ddb" json:"ddb"`
	MetadataReader string `koanf:"metadata_reader" json:"metadata_reader"` // exiftool, imagick, auto
}

type Server struct {
	Addr     string `koanf:"addr" json:"addr"`
	GRPCAddr string `koanf:"grpc_addr" json:"grpc_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			QueueSize:    defaultQueueSize,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput: ".",
			DatabasePath: filepath.Join(os.TempDir(), "traj2gps.db"),
		},
		Trajectory: Trajectory{
			TimeColumn:     "Time[s]",
			EastingColumn:  "Easting[m]",
			NorthingColumn: "Northing[m]",
			HeightColumn:   "Height[m]",
			TimeFormat:     "gps",
			GPSTimeOffset:  1e9,
		},
		Interpolation: Interpolation{Kernel: "linear"},
		Projection:    Projection{CRS: "EPSG:25832"},
		Tools: Tools{
			Exiftool:       "exiftool",
			DDB:            "ddb",
			MetadataReader: "auto",
		},
		Server: Server{
			Addr:     "127.0.0.1:8080",
			GRPCAddr: "",
		},
	}
}

// Validate reports the first inconsistent setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Processing.ParallelJobs < 1 {
		return fmt.Errorf("%w: processing.parallel_jobs must be >= 1, got %d", ErrInvalidConfig, c.Processing.ParallelJobs)
	}
	if c.Processing.QueueSize < 1 {
		return fmt.Errorf("%w: processing.queue_size must be >= 1, got %d", ErrInvalidConfig, c.Processing.QueueSize)
	}
	if _, err := interpolate.ParseKernel(c.Interpolation.Kernel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := projection.ForCRS(c.Projection.CRS); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cols := map[string]string{
		"trajectory.time_column":     c.Trajectory.TimeColumn,
		"trajectory.easting_column":  c.Trajectory.EastingColumn,
		"trajectory.northing_column": c.Trajectory.NorthingColumn,
		"trajectory.height_column":   c.Trajectory.HeightColumn,
	}
	for key, v := range cols {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, key)
		}
	}
	switch c.Trajectory.TimeFormat {
	case "gps", "utc":
	default:
		return fmt.Errorf("%w: trajectory.time_format must be gps or utc, got %q", ErrInvalidConfig, c.Trajectory.TimeFormat)
	}
	switch c.Tools.MetadataReader {
	case "exiftool", "imagick", "auto":
	default:
		return fmt.Errorf("%w: tools.metadata_reader must be exiftool, imagick or auto, got %q", ErrInvalidConfig, c.Tools.MetadataReader)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json, got %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// Path returns the config file location. TRAJ2GPS_CONFIG wins; otherwise a
// traj2gps.yaml in the working directory is preferred over the per-user file.
func Path() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return ExpandUser(p)
	}
	user, err := ExpandUser(defaultConfigPath)
	if err != nil {
		return "", err
	}
	if p := fsutil.FirstExisting(localConfigPath, user); p != "" {
		return p, nil
	}
	return user, nil
}

// ExpandUser replaces a leading ~ with the home directory.
func ExpandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
