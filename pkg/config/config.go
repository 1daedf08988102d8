// Package config is the configuration of ecsdeploy itself (as opposed
// to the deployment manifest): where history is kept, how to reach
// AWS and memcached, and how to log. Values come from flags,
// ECSDEPLOY_* environment variables, and an optional config file, in
// that order of precedence.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	// Schedules may name any zone, whatever the host has installed.
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ConfigVersion = "v1"
	EnvPrefix     = "ECSDEPLOY"

	HistoryDriverSQL    = "sql"
	HistoryDriverDynamo = "dynamodb"
	HistoryDriverMemory = "memory"

	LogFormatFmt  = "logfmt"
	LogFormatJSON = "json"
)

type Config struct {
	// Expected in a config file; anything other than ConfigVersion
	// makes the file invalid.
	ConfigVersion string `mapstructure:"configVersion"`

	LogFormat string `mapstructure:"logFormat"`
	Manifest  string `mapstructure:"manifest"`

	HistoryDriver string `mapstructure:"historyDriver"`
	HistorySource string `mapstructure:"historySource"`

	// Only used by the dynamodb driver; sql stores create their table
	// when opened.
	HistoryCreateTable bool `mapstructure:"historyCreateTable"`

	AWSRegion string  `mapstructure:"awsRegion"`
	ECSRPS    float64 `mapstructure:"ecsRps"`
	ECSBurst  int     `mapstructure:"ecsBurst"`

	MemcachedHostname string        `mapstructure:"memcachedHostname"`
	MemcachedPort     int           `mapstructure:"memcachedPort"`
	MemcachedService  string        `mapstructure:"memcachedService"`
	MemcachedTimeout  time.Duration `mapstructure:"memcachedTimeout"`
	RegistryCacheTTL  time.Duration `mapstructure:"registryCacheTtl"`

	Listen           string `mapstructure:"listen"`
	ScheduleTimezone string `mapstructure:"scheduleTimezone"`
}

func (c Config) IsValid() error {
	if c.ConfigVersion != ConfigVersion {
		return fmt.Errorf("config file is expected to include `configVersion: %s` to mark it as an ecsdeploy config", ConfigVersion)
	}
	switch c.HistoryDriver {
	case HistoryDriverSQL, HistoryDriverDynamo, HistoryDriverMemory:
	default:
		return fmt.Errorf("unknown history driver %q; expected one of %s, %s, %s", c.HistoryDriver, HistoryDriverSQL, HistoryDriverDynamo, HistoryDriverMemory)
	}
	if c.HistoryDriver != HistoryDriverMemory && c.HistorySource == "" {
		return fmt.Errorf("a history source is needed for the %s history driver", c.HistoryDriver)
	}
	switch c.LogFormat {
	case LogFormatFmt, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log format %q; expected %s or %s", c.LogFormat, LogFormatFmt, LogFormatJSON)
	}
	if c.ECSRPS <= 0 {
		return fmt.Errorf("ECS requests per second must be more than zero, not %v", c.ECSRPS)
	}
	if c.ECSBurst <= 0 {
		return fmt.Errorf("ECS request burst must be more than zero, not %d", c.ECSBurst)
	}
	if c.ScheduleTimezone != "" {
		if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
			return errors.Wrap(err, "schedule timezone")
		}
	}
	return nil
}

// Location is where schedules are evaluated; UTC unless configured.
func (c Config) Location() *time.Location {
	if c.ScheduleTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EnvName is the environment variable that sets the flag given.
func EnvName(flagName string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.Replace(flagName, "-", "_", -1))
}

// DefineFlags defines the flags that can also be set in a config
// file or the environment, binding each to its Config field.
func DefineFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	var bindErr error
	bind := func(fieldName, flagName string) {
		if bindErr != nil {
			return
		}
		field, ok := reflect.TypeOf(Config{}).FieldByName(fieldName)
		if !ok {
			bindErr = fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
			return
		}
		// As mapstructure would, except that an ignored field is a
		// mistake here.
		mappedName := field.Name
		if namePart := strings.Split(field.Tag.Get("mapstructure"), ",")[0]; namePart != "" {
			if namePart == "-" {
				bindErr = fmt.Errorf("attempt to bind a flag to a config field tagged as ignored, %q", field.Name)
				return
			}
			mappedName = namePart
		}
		if err := v.BindPFlag(mappedName, fs.Lookup(flagName)); err != nil {
			bindErr = err
			return
		}
		bindErr = v.BindEnv(mappedName, EnvName(flagName))
	}

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bind(fieldName, flagName)
	}
	defineStringP := func(fieldName, flagName, short, def, desc string) {
		fs.StringP(flagName, short, def, desc)
		bind(fieldName, flagName)
	}
	defineBool := func(fieldName, flagName string, def bool, desc string) {
		fs.Bool(flagName, def, desc)
		bind(fieldName, flagName)
	}
	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bind(fieldName, flagName)
	}
	defineFloat64 := func(fieldName, flagName string, def float64, desc string) {
		fs.Float64(flagName, def, desc)
		bind(fieldName, flagName)
	}
	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bind(fieldName, flagName)
	}

	defineString("LogFormat", "log-format", LogFormatFmt, "log format, logfmt or json")
	defineStringP("Manifest", "manifest", "f", "ecsdeploy.yaml", "path to the deployment manifest")

	defineString("HistoryDriver", "history-driver", HistoryDriverSQL, fmt.Sprintf("where deployment history is kept (one of {%s})", strings.Join([]string{HistoryDriverSQL, HistoryDriverDynamo, HistoryDriverMemory}, ",")))
	defineString("HistorySource", "history-source", "file:ecsdeploy-history.db", "history database URL for the sql driver (file:, sqlite3:, postgres:), or the table name for the dynamodb driver")

	defineBool("HistoryCreateTable", "history-create-table", false, "create the dynamodb history table and its index if they do not exist")

	defineString("AWSRegion", "aws-region", "", "AWS region for history and the registry; defaults to the manifest's region")
	defineFloat64("ECSRPS", "ecs-rps", 10, "maximum ECS API requests per second per region")
	defineInt("ECSBurst", "ecs-burst", 20, "ECS API request burst per region")

	defineString("MemcachedHostname", "memcached-hostname", "", "hostname of memcached for caching registry lookups; empty to not cache")
	defineInt("MemcachedPort", "memcached-port", 11211, "memcached service port")
	defineString("MemcachedService", "memcached-service", "", "SRV service used to discover memcached servers; empty to use hostname and port")
	defineDuration("MemcachedTimeout", "memcached-timeout", time.Second, "maximum time to wait before giving up on memcached requests")
	defineDuration("RegistryCacheTTL", "registry-cache-ttl", 24*time.Hour, "how long to remember repository URIs")

	defineString("Listen", "listen", ":3031", "listen address of the scheduler, for /metrics, /healthz and triggers")
	defineString("ScheduleTimezone", "schedule-timezone", "UTC", "time zone in which job schedules are evaluated")

	return bindErr
}

// Load reads the config file, if one is given, and returns the
// configuration with flags and environment applied on top.
func Load(v *viper.Viper, configFile string) (Config, error) {
	var c Config
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return c, errors.Wrapf(err, "reading config file %s", configFile)
		}
	} else {
		v.SetDefault("configVersion", ConfigVersion)
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, errors.Wrap(err, "decoding configuration")
	}
	return c, c.IsValid()
}
