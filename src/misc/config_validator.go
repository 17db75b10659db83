package misc

import (
	"errors"
	"fmt"
)

type ConfigValidator struct {
	config *Config
}

func (this *ConfigValidator) Init(config *Config) {
	this.config = config
}

// Validate reports the first invalid field. Every check mirrors one
// parameter so the message names the offending option.
func (this *ConfigValidator) Validate() error {
	if this.config == nil {
		return errors.New("config is nil")
	}

	if this.config.NumChannels <= 0 {
		return errors.New("num_channels <= 0")
	}

	if this.config.NumRanksPerChannel <= 0 {
		return errors.New("num_ranks_per_channel <= 0")
	}

	if this.config.NumDpusPerRank <= 0 {
		return errors.New("num_dpus_per_rank <= 0")
	}

	if this.config.NumTasklets <= 0 {
		return errors.New("num_tasklets <= 0")
	}

	if this.config.NumTasklets > MaxNumTasklets {
		return fmt.Errorf("num_tasklets %d > %d", this.config.NumTasklets, MaxNumTasklets)
	}

	if this.config.NumSimulationThreads <= 0 {
		return errors.New("num_simulation_threads <= 0")
	}

	if this.config.MramOffset < 0 {
		return errors.New("mram_offset < 0")
	}

	if this.config.MramSize <= 0 {
		return errors.New("mram_size <= 0")
	}

	if this.config.MinAccessGranularity <= 0 {
		return errors.New("min_access_granularity <= 0")
	}

	if this.config.MramSize%this.config.MinAccessGranularity != 0 {
		return errors.New("mram_size is not aligned with min_access_granularity")
	}

	if this.config.MramHeapPointer < 0 || this.config.MramHeapPointer >= this.config.MramSize {
		return fmt.Errorf("mram_heap_pointer %d is outside MRAM", this.config.MramHeapPointer)
	}

	if this.config.MramHeapPointer%this.config.MinAccessGranularity != 0 {
		return errors.New("mram_heap_pointer is not aligned with min_access_granularity")
	}

	if this.config.WramHeapSize <= 0 {
		return errors.New("wram_heap_size <= 0")
	}

	if this.config.ResultCapacity < 0 {
		return errors.New("result_capacity < 0")
	}

	if _, ok := WriteBackPolicyFromString(this.config.WriteBackPolicy); !ok {
		return fmt.Errorf("write_back_policy %s is not supported", this.config.WriteBackPolicy)
	}

	if _, ok := ResultScopeFromString(this.config.ResultScope); !ok {
		return fmt.Errorf("result_scope %s is not supported", this.config.ResultScope)
	}

	if this.config.MaxRetries < 0 {
		return errors.New("max_retries < 0")
	}

	if this.config.HostDmaBandwidth < 0 {
		return errors.New("host_dma_bandwidth < 0")
	}

	if _, err := ParseLogLevel(this.config.LogLevel); err != nil {
		return err
	}

	if this.config.LogFormat != "text" && this.config.LogFormat != "json" {
		return fmt.Errorf("log_format %s is not supported", this.config.LogFormat)
	}

	return nil
}

// Validate is a shorthand for running a ConfigValidator over the config.
func (this *Config) Validate() error {
	config_validator := new(ConfigValidator)
	config_validator.Init(this)
	return config_validator.Validate()
}
