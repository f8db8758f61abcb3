package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/ecovision/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars(t)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.SyncWorkerCount, convey.ShouldEqual, 2)
				convey.So(cfg.CacheBackend, convey.ShouldEqual, config.CacheMemory)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			t.Setenv("ECOVISION_ADDR", ":8080")
			t.Setenv("ECOVISION_MAX_SYNC_RETRIES", "5")
			t.Setenv("ECOVISION_SYNC_BASE_DELAY", "250ms")
			t.Setenv("ECOVISION_USE_GPU", "false")
			t.Setenv("ECOVISION_CONFIDENCE_THRESHOLD", "0.65")
			t.Setenv("ECOVISION_LABELS", "glass, metal ,paper")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MaxSyncRetries, convey.ShouldEqual, 5)
				convey.So(cfg.SyncBaseDelay, convey.ShouldEqual, 250*time.Millisecond)
				convey.So(cfg.UseGPU, convey.ShouldBeFalse)
				convey.So(cfg.ConfidenceThreshold, convey.ShouldEqual, 0.65)
				convey.So(cfg.Labels, convey.ShouldResemble, []string{"glass", "metal", "paper"})
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			path := writeConfigFile(t, `
addr: ":9090"
model_path: "/models/waste.onnx"
input_layout: "nchw"
labels: ["plastic", "glass"]
cache_backend: "redis"
cache_ttl: "24h"
conflict_policy: "merged"
`)
			t.Setenv("ECOVISION_CONFIG", path)
			t.Setenv("ECOVISION_ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then the file applies and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.ModelPath, convey.ShouldEqual, "/models/waste.onnx")
				convey.So(cfg.InputLayout, convey.ShouldEqual, "nchw")
				convey.So(cfg.Labels, convey.ShouldResemble, []string{"plastic", "glass"})
				convey.So(cfg.CacheBackend, convey.ShouldEqual, config.CacheRedis)
				convey.So(cfg.CacheTTL, convey.ShouldEqual, 24*time.Hour)
				convey.So(cfg.ConflictPolicy, convey.ShouldEqual, "merged")
			})
		})

		convey.Convey("When the config file is missing", func() {
			t.Setenv("ECOVISION_CONFIG", "/nonexistent/ecovision.yaml")

			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a value fails validation", func() {
			t.Setenv("ECOVISION_CONFLICT_POLICY", "first_come")

			_, err := config.Load(ctx)

			convey.Convey("Then an invalid config error is returned", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ECOVISION_CONFIG", "ECOVISION_ADDR", "ECOVISION_MAX_SYNC_RETRIES",
		"ECOVISION_SYNC_BASE_DELAY", "ECOVISION_USE_GPU", "ECOVISION_CONFIDENCE_THRESHOLD",
		"ECOVISION_LABELS", "ECOVISION_CONFLICT_POLICY",
	} {
		_ = os.Unsetenv(key)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "ecovision-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	return f.Name()
}
