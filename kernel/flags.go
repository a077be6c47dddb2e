package kernel

import (
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// ParseFlags builds a Config from a command line, starting from
// DefaultConfig. Takes its own FlagSet rather than touching
// pflag.CommandLine, so callers (and tests) can invoke it more than once
// without global state bleeding between them.
func ParseFlags(name string, args []string) (Config, error) {
	cfg := DefaultConfig()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	mlfqs := fs.Bool("mlfqs", cfg.MLFQS, "use the MLFQS scheduler instead of priority donation")
	maxThreads := fs.Int("max-threads", cfg.MaxThreads, "maximum live thread count")
	freqHz := fs.Int("frequency-hz", cfg.FrequencyHz, "timer tick frequency")
	logLevel := fs.String("log-level", cfg.LogLevel.String(), "zerolog level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return Config{}, err
	}

	cfg.MLFQS = *mlfqs
	cfg.MaxThreads = *maxThreads
	cfg.FrequencyHz = *freqHz
	cfg.LogLevel = level
	return cfg, nil
}
