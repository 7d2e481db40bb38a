// Package config holds the runtime configuration of a stream runner
// process: slot count, channel and checkpoint settings, logging and metrics.
package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Swind/go-stream-runner/core"
	"github.com/pingcap/errors"
	"github.com/spf13/pflag"
)

const (
	defaultTaskManagerID       = "taskmanager-0"
	defaultSlots               = 4
	defaultMailHistory         = 100
	defaultChannelCapacity     = 1024
	defaultCheckpointInterval  = 5 * time.Second
	defaultCheckpointTimeout   = 10 * time.Second
	defaultRetainedCheckpoints = 10
	defaultMetricsAddr         = "127.0.0.1:9464"
	defaultMetricsNamespace    = "streamrunner"
	defaultMetricsPoll         = 2 * time.Second
)

// ErrConfigInvalid is returned by Validate and Load.
var ErrConfigInvalid = core.ErrConfigInvalid

// Config is the configuration of a stream runner process.
type Config struct {
	TaskManager TaskManagerConfig `toml:"task-manager" json:"task-manager"`
	JobManager  JobManagerConfig  `toml:"job-manager" json:"job-manager"`
	Log         LogConfig         `toml:"log" json:"log"`
	Metrics     MetricsConfig     `toml:"metrics" json:"metrics"`
}

// TaskManagerConfig configures the slots that run tasks.
type TaskManagerConfig struct {
	ID    string `toml:"id" json:"id"`
	Slots int    `toml:"slots" json:"slots"`
	// MailHistory is how many executed mails each task remembers.
	MailHistory int `toml:"mail-history" json:"mail-history"`
}

// JobManagerConfig configures deployment and checkpointing.
type JobManagerConfig struct {
	ChannelCapacity     int      `toml:"channel-capacity" json:"channel-capacity"`
	CheckpointInterval  Duration `toml:"checkpoint-interval" json:"checkpoint-interval"`
	CheckpointTimeout   Duration `toml:"checkpoint-timeout" json:"checkpoint-timeout"`
	RetainedCheckpoints int      `toml:"retained-checkpoints" json:"retained-checkpoints"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled      bool     `toml:"enabled" json:"enabled"`
	Addr         string   `toml:"addr" json:"addr"`
	Namespace    string   `toml:"namespace" json:"namespace"`
	PollInterval Duration `toml:"poll-interval" json:"poll-interval"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		TaskManager: TaskManagerConfig{
			ID:          defaultTaskManagerID,
			Slots:       defaultSlots,
			MailHistory: defaultMailHistory,
		},
		JobManager: JobManagerConfig{
			ChannelCapacity:     defaultChannelCapacity,
			CheckpointInterval:  NewDuration(defaultCheckpointInterval),
			CheckpointTimeout:   NewDuration(defaultCheckpointTimeout),
			RetainedCheckpoints: defaultRetainedCheckpoints,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr:         defaultMetricsAddr,
			Namespace:    defaultMetricsNamespace,
			PollInterval: NewDuration(defaultMetricsPoll),
		},
	}
}

// Load reads a TOML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.DecodeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeFile merges the TOML file at path into c. Unknown keys are an error.
func (c *Config) DecodeFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.Annotatef(err, "decode config file %s", path)
	}
	return checkUndecodedItems(metaData)
}

// DecodeString merges TOML data into c. Unknown keys are an error.
func (c *Config) DecodeString(data string) error {
	metaData, err := toml.Decode(data, c)
	if err != nil {
		return errors.Annotate(err, "decode config")
	}
	return checkUndecodedItems(metaData)
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	items := make([]string, 0, len(undecoded))
	for _, item := range undecoded {
		items = append(items, item.String())
	}
	return ErrConfigInvalid.GenWithStackByArgs("unknown items " + strings.Join(items, ","))
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.TaskManager.Slots < 1:
		return ErrConfigInvalid.GenWithStackByArgs(fmt.Sprintf("task-manager.slots must be positive, got %d", c.TaskManager.Slots))
	case c.JobManager.ChannelCapacity < 1:
		return ErrConfigInvalid.GenWithStackByArgs(fmt.Sprintf("job-manager.channel-capacity must be positive, got %d", c.JobManager.ChannelCapacity))
	case c.JobManager.CheckpointInterval.Duration < 0:
		return ErrConfigInvalid.GenWithStackByArgs("job-manager.checkpoint-interval must not be negative")
	case c.JobManager.CheckpointTimeout.Duration <= 0:
		return ErrConfigInvalid.GenWithStackByArgs("job-manager.checkpoint-timeout must be positive")
	case c.JobManager.RetainedCheckpoints < 1:
		return ErrConfigInvalid.GenWithStackByArgs(fmt.Sprintf("job-manager.retained-checkpoints must be positive, got %d", c.JobManager.RetainedCheckpoints))
	case c.Metrics.Enabled && c.Metrics.Addr == "":
		return ErrConfigInvalid.GenWithStackByArgs("metrics.addr is required when metrics are enabled")
	case c.Metrics.Enabled && c.Metrics.PollInterval.Duration <= 0:
		return ErrConfigInvalid.GenWithStackByArgs("metrics.poll-interval must be positive")
	}
	return c.Log.Validate()
}

// BindFlags registers command line flags that write straight into c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.TaskManager.ID, "task-manager-id", c.TaskManager.ID, "task manager id")
	fs.IntVar(&c.TaskManager.Slots, "slots", c.TaskManager.Slots, "number of task slots")
	fs.IntVar(&c.TaskManager.MailHistory, "mail-history", c.TaskManager.MailHistory, "executed mails remembered per task")
	fs.IntVar(&c.JobManager.ChannelCapacity, "channel-capacity", c.JobManager.ChannelCapacity, "capacity of every data channel")
	fs.Var(&c.JobManager.CheckpointInterval, "checkpoint-interval", "period between checkpoints, 0 disables them")
	fs.Var(&c.JobManager.CheckpointTimeout, "checkpoint-timeout", "time a checkpoint may wait for acknowledgements")
	fs.IntVar(&c.JobManager.RetainedCheckpoints, "retained-checkpoints", c.JobManager.RetainedCheckpoints, "completed checkpoints to keep")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level: debug, info, warn, error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "log format: text or json")
	fs.StringVar(&c.Log.File, "log-file", c.Log.File, "log file path, empty for stderr")
	fs.BoolVar(&c.Metrics.Enabled, "metrics", c.Metrics.Enabled, "serve Prometheus metrics")
	fs.StringVar(&c.Metrics.Addr, "metrics-addr", c.Metrics.Addr, "address of the metrics endpoint")
	fs.StringVar(&c.Metrics.Namespace, "metrics-namespace", c.Metrics.Namespace, "Prometheus metric namespace")
	fs.Var(&c.Metrics.PollInterval, "metrics-poll-interval", "how often task stats are exported")
}

// LoadWithFlags merges the file at path into c while keeping every flag of
// fs the user set explicitly. An empty path only validates.
func (c *Config) LoadWithFlags(path string, fs *pflag.FlagSet) error {
	if path != "" {
		changed := make(map[string]string)
		fs.Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })

		if err := c.DecodeFile(path); err != nil {
			return err
		}
		for name, value := range changed {
			if err := fs.Set(name, value); err != nil {
				return errors.Annotatef(err, "reapply flag --%s", name)
			}
		}
	}
	return c.Validate()
}

// Toml returns the TOML representation of c.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", errors.Trace(err)
	}
	return b.String(), nil
}
