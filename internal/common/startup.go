package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/relaybench/relaybench/internal/common/config"
)

const envPrefix = "RELAYBENCH"

// BindCommandlineArguments makes all pflags available to viper, so that they can override config file values.
func BindCommandlineArguments() {
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads config.yaml from defaultPath (if present), merges each of the user specified files on top of it
// in order, applies RELAYBENCH_* environment overrides and unmarshals the result into config.
func LoadConfig(config interface{}, defaultPath string, userSpecifiedConfigs []string) error {
	return LoadConfigWith(viper.GetViper(), config, defaultPath, userSpecifiedConfigs)
}

// LoadConfigWith is like LoadConfig but uses the provided viper instance.
func LoadConfigWith(v *viper.Viper, config interface{}, defaultPath string, userSpecifiedConfigs []string) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrapf(err, "error reading default config from %s", defaultPath)
		}
		log.Debugf("No default config found in %s", defaultPath)
	}

	for _, configPath := range userSpecifiedConfigs {
		v.SetConfigFile(configPath)
		if err := v.MergeInConfig(); err != nil {
			return errors.Wrapf(err, "error reading config from %s", configPath)
		}
		log.Infof("Read config from %s", configPath)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// ServeMetrics serves the default prometheus registry on the given port. The returned function shuts the server down.
func ServeMetrics(port uint16) (shutdown func()) {
	return ServeMetricsFor(port, prometheus.DefaultGatherer)
}

// ServeMetricsFor serves the metrics gathered by gatherer on the given port.
func ServeMetricsFor(port uint16, gatherer prometheus.Gatherer) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("Serving metrics on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to shut down metrics server cleanly")
		}
	}
}
