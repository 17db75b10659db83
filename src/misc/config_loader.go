package misc

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override Config
// fields, e.g. JACPIM_NUM_TASKLETS.
const EnvPrefix = "JACPIM"

const (
	MaxNumTasklets     = 24
	DefaultNumTasklets = 12

	defaultMramOffset = 512 * 1024
	defaultMramSize   = 64 * 1024 * 1024
	defaultWramHeap   = 64 * 1024
)

// Config bundles the runtime parameters of a simulated PIM system.
type Config struct {
	NumChannels          int `yaml:"num_channels" envconfig:"NUM_CHANNELS"`
	NumRanksPerChannel   int `yaml:"num_ranks_per_channel" envconfig:"NUM_RANKS_PER_CHANNEL"`
	NumDpusPerRank       int `yaml:"num_dpus_per_rank" envconfig:"NUM_DPUS_PER_RANK"`
	NumTasklets          int `yaml:"num_tasklets" envconfig:"NUM_TASKLETS"`
	NumSimulationThreads int `yaml:"num_simulation_threads" envconfig:"NUM_SIMULATION_THREADS"`

	MramOffset           int64 `yaml:"mram_offset" envconfig:"MRAM_OFFSET"`
	MramSize             int64 `yaml:"mram_size" envconfig:"MRAM_SIZE"`
	MramHeapPointer      int64 `yaml:"mram_heap_pointer" envconfig:"MRAM_HEAP_POINTER"`
	MinAccessGranularity int64 `yaml:"min_access_granularity" envconfig:"MIN_ACCESS_GRANULARITY"`
	WramHeapSize         int64 `yaml:"wram_heap_size" envconfig:"WRAM_HEAP_SIZE"`

	ResultCapacity  int    `yaml:"result_capacity" envconfig:"RESULT_CAPACITY"`
	WriteBackPolicy string `yaml:"write_back_policy" envconfig:"WRITE_BACK_POLICY"`
	ResultScope     string `yaml:"result_scope" envconfig:"RESULT_SCOPE"`

	MaxRetries       int    `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	HostDmaBandwidth int64  `yaml:"host_dma_bandwidth" envconfig:"HOST_DMA_BANDWIDTH"`
	ImageStorePath   string `yaml:"image_store_path" envconfig:"IMAGE_STORE_PATH"`

	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`
	LogFile   string `yaml:"log_file" envconfig:"LOG_FILE"`
}

// DefaultConfig returns the configuration of a single-DPU system running the
// default tasklet count.
func DefaultConfig() *Config {
	return &Config{
		NumChannels:          1,
		NumRanksPerChannel:   1,
		NumDpusPerRank:       1,
		NumTasklets:          DefaultNumTasklets,
		NumSimulationThreads: 16,

		MramOffset:           defaultMramOffset,
		MramSize:             defaultMramSize,
		MramHeapPointer:      0,
		MinAccessGranularity: 8,
		WramHeapSize:         defaultWramHeap,

		ResultCapacity:  128,
		WriteBackPolicy: string(DefaultWriteBackPolicy()),
		ResultScope:     string(DefaultResultScope()),

		MaxRetries:       1,
		HostDmaBandwidth: 8192,
		ImageStorePath:   "",

		LogLevel:  "info",
		LogFormat: "text",
		LogFile:   "",
	}
}

// LoadConfig layers defaults, the YAML file at path (skipped when path is
// empty) and JACPIM_* environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	return config, nil
}

// NumDpus returns the total number of compute units described by the config.
func (this *Config) NumDpus() int {
	return this.NumChannels * this.NumRanksPerChannel * this.NumDpusPerRank
}

// Policy returns the parsed write-back policy. Validate rejects unknown
// values, so the fallback only matters for unvalidated configs.
func (this *Config) Policy() WriteBackPolicy {
	if policy, ok := WriteBackPolicyFromString(this.WriteBackPolicy); ok {
		return policy
	}
	return DefaultWriteBackPolicy()
}

func (this *Config) Scope() ResultScope {
	if scope, ok := ResultScopeFromString(this.ResultScope); ok {
		return scope
	}
	return DefaultResultScope()
}

// Clone returns a copy that can be modified without touching the receiver.
func (this *Config) Clone() *Config {
	if this == nil {
		return nil
	}
	clone := *this
	return &clone
}

// WriteConfig dumps the config as YAML. The CLI writes it next to the images
// so a run can be reproduced.
func WriteConfig(path string, config *Config) error {
	if config == nil {
		return errors.New("config is nil")
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
