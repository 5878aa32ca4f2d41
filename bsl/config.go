//Package bsl implements out-of-core cross-products and column-wise logistic
//regression over file-backed matrices.
package bsl

import "runtime"

//Config collects the process-wide defaults that calls read at invocation time.
//A nil *Config anywhere in this package means DefaultConfig().
type Config struct {
	NCoresMax       int
	CheckArgs       bool
	BlockBudgetGB   float64
	TypecastWarning bool
}

//DefaultConfig returns the default configuration: all detected cores available,
//argument checking on, a one gigabyte block budget and typecast warnings on.
func DefaultConfig() *Config {
	return &Config{
		NCoresMax:       runtime.NumCPU(),
		CheckArgs:       true,
		BlockBudgetGB:   1,
		TypecastWarning: true,
	}
}

func (cfg *Config) orDefault() *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return cfg
}
