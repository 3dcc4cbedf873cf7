// Package datasource resolves the database connection settings once at
// startup and publishes the normalized values back to the property store.
package datasource

import (
	"errors"

	"github.com/mxschmitt/pg-datasource/internal/config"
	"github.com/mxschmitt/pg-datasource/internal/dsn"
	"go.uber.org/zap"
)

var ErrNoDataSource = errors.New("no data source configured: set " + config.KeyDatabaseURL)

// Properties is the configuration store downstream consumers read from.
// *viper.Viper satisfies it.
type Properties interface {
	GetString(key string) string
	Set(key string, value any)
}

// DataSource is the resolved connection configuration handed to the pool
// constructor. It is not modified after Resolve returns.
type DataSource struct {
	URL      string
	Username string
	Password string

	// Converted reports whether the configured URL had to be rewritten.
	Converted bool
}

func (ds *DataSource) Descriptor() dsn.Descriptor {
	return dsn.Descriptor{URL: ds.URL, Username: ds.Username, Password: ds.Password}
}

// MaskedURL is the URL with any embedded password hidden.
func (ds *DataSource) MaskedURL() string {
	return dsn.Mask(ds.URL)
}

// Resolve normalizes the configured connection string, applies the
// username and password overrides, and writes the result back into props
// so later readers see the canonical values. Extracted credentials are
// only written where props had none.
//
// Resolve is meant to run exactly once, before anything else reads props.
func Resolve(props Properties, normalizer *dsn.Normalizer, logger *zap.Logger) (*DataSource, error) {
	raw := props.GetString(config.KeyDatabaseURL)
	envUsername := props.GetString(config.KeyDatabaseUsername)
	envPassword := props.GetString(config.KeyDatabasePassword)

	extracted := normalizer.Normalize(raw)
	if extracted.IsZero() {
		return nil, ErrNoDataSource
	}
	resolved := extracted.WithOverrides(envUsername, envPassword)

	ds := &DataSource{
		URL:       resolved.URL,
		Username:  resolved.Username,
		Password:  resolved.Password,
		Converted: resolved.URL != raw,
	}

	if ds.Converted {
		props.Set(config.KeyDatabaseURL, ds.URL)
		if extracted.Username != "" && envUsername == "" {
			props.Set(config.KeyDatabaseUsername, extracted.Username)
		}
		if extracted.Password != "" && envPassword == "" {
			props.Set(config.KeyDatabasePassword, extracted.Password)
		}
		logger.Info("Published normalized data source", zap.String("url", ds.MaskedURL()))
	}

	logger.Info("Configured data source",
		zap.String("url", ds.MaskedURL()),
		zap.String("username", ds.Username),
		zap.Bool("password_set", ds.Password != ""),
		zap.Bool("converted", ds.Converted))

	return ds, nil
}
