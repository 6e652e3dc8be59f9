package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("Given no config file", t, func() {
		cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))

		Convey("defaults are returned and valid", func() {
			So(err, ShouldBeNil)
			So(cfg.Interpolation.Kernel, ShouldEqual, "linear")
			So(cfg.Trajectory.TimeColumn, ShouldEqual, "Time[s]")
			So(cfg.Trajectory.GPSTimeOffset, ShouldEqual, 1e9)
			So(cfg.Processing.ParallelJobs, ShouldEqual, defaultParallel)
			So(cfg.Server.Addr, ShouldEqual, "127.0.0.1:8080")
			So(cfg.Validate(), ShouldBeNil)
		})
	})

	Convey("Given a YAML file", t, func() {
		path := writeConfig(t, `
interpolation:
  kernel: cubic
trajectory:
  time_format: utc
  time_column: t
projection:
  crs: EPSG:32633
`)
		cfg, err := LoadFrom(path)

		Convey("file values override defaults and the rest is kept", func() {
			So(err, ShouldBeNil)
			So(cfg.Interpolation.Kernel, ShouldEqual, "cubic")
			So(cfg.Trajectory.TimeFormat, ShouldEqual, "utc")
			So(cfg.Trajectory.TimeColumn, ShouldEqual, "t")
			So(cfg.Trajectory.EastingColumn, ShouldEqual, "Easting[m]")
			So(cfg.Projection.CRS, ShouldEqual, "EPSG:32633")
		})

		Convey("environment variables win over the file", func() {
			t.Setenv("TRAJ2GPS_INTERPOLATION__KERNEL", "quadratic")
			t.Setenv("TRAJ2GPS_PROCESSING__PARALLEL_JOBS", "9")
			cfg, err := LoadFrom(path)
			So(err, ShouldBeNil)
			So(cfg.Interpolation.Kernel, ShouldEqual, "quadratic")
			So(cfg.Processing.ParallelJobs, ShouldEqual, 9)
		})
	})

	Convey("Given a broken YAML file", t, func() {
		path := writeConfig(t, "interpolation: [unterminated\n")
		_, err := LoadFrom(path)

		Convey("the load error is reported", func() {
			So(errors.Is(err, ErrLoadConfig), ShouldBeTrue)
		})
	})

	Convey("TRAJ2GPS_CONFIG selects the file", t, func() {
		path := writeConfig(t, "server:\n  addr: \":9999\"\n")
		t.Setenv(EnvConfig, path)
		cfg, err := Load()
		So(err, ShouldBeNil)
		So(cfg.Server.Addr, ShouldEqual, ":9999")
	})
}

func TestValidate(t *testing.T) {
	Convey("Given the default config", t, func() {
		cfg := Default()

		Convey("an unknown kernel is rejected", func() {
			cfg.Interpolation.Kernel = "spline"
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("an unsupported CRS is rejected", func() {
			cfg.Projection.CRS = "EPSG:4978"
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("parallel jobs must be positive", func() {
			cfg.Processing.ParallelJobs = 0
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("column names must be set", func() {
			cfg.Trajectory.HeightColumn = " "
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("time format is gps or utc", func() {
			cfg.Trajectory.TimeFormat = "tai"
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("metadata reader is a known backend", func() {
			cfg.Tools.MetadataReader = "exiv2"
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})
	})
}

func TestExpandUser(t *testing.T) {
	Convey("Given paths with and without a tilde", t, func() {
		home, err := os.UserHomeDir()
		So(err, ShouldBeNil)

		got, err := ExpandUser("~/data/db.sqlite")
		So(err, ShouldBeNil)
		So(got, ShouldEqual, filepath.Join(home, "data/db.sqlite"))

		got, err = ExpandUser("/abs/path")
		So(err, ShouldBeNil)
		So(got, ShouldEqual, "/abs/path")
	})
}

func TestPath(t *testing.T) {
	Convey("Without TRAJ2GPS_CONFIG", t, func() {
		t.Setenv(EnvConfig, "")
		dir := t.TempDir()
		t.Chdir(dir)

		Convey("a traj2gps.yaml in the working directory is used", func() {
			So(os.WriteFile(filepath.Join(dir, "traj2gps.yaml"), []byte("{}\n"), 0o644), ShouldBeNil)
			p, err := Path()
			So(err, ShouldBeNil)
			So(p, ShouldEqual, "traj2gps.yaml")
		})

		Convey("otherwise the per-user file is named even if missing", func() {
			p, err := Path()
			So(err, ShouldBeNil)
			So(filepath.Base(p), ShouldEqual, "config.yaml")
			So(filepath.Base(filepath.Dir(p)), ShouldEqual, "traj2gps")
		})
	})
}
