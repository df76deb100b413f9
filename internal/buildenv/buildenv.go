package buildenv

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
)

// EnvVar is the environment indicator read once per build invocation.
const EnvVar = "NODE_ENV"

var (
	// ErrUnknownMode indicates an explicit mode override that is neither development nor production
	ErrUnknownMode = errors.New("unknown build mode")
)

// Mode is the build mode of a single invocation.
type Mode string

const (
	Development Mode = "development"
	Production  Mode = "production"
)

func (m Mode) String() string {
	return string(m)
}

// IsProduction reports whether m is the production mode.
func (m Mode) IsProduction() bool {
	return m == Production
}

// Resolve derives the build mode from the environment indicator. Anything other than
// "production", including an absent value, resolves to development.
func Resolve(lookup func(string) (string, bool)) Mode {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup(EnvVar); ok && v == string(Production) {
		return Production
	}

	return Development
}

// ParseMode parses an explicit mode override. An empty string returns an empty Mode,
// which Detect treats as "read the environment".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "":
		return "", nil
	case string(Development):
		return Development, nil
	case string(Production):
		return Production, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// CPUCounter returns the number of logical CPUs on the host.
type CPUCounter func() (int, error)

// LogicalCPUs counts logical CPUs using gopsutil.
func LogicalCPUs() (int, error) {
	return cpu.Counts(true)
}

// Host captures the resources the build may request from the bundler.
type Host struct {
	CPUs     int
	Workers  int
	Parallel bool
}

// DetectHost sizes the worker pool from the host CPU count. Discovery failures fall back
// to a single worker.
func DetectHost(counter CPUCounter) Host {
	if counter == nil {
		counter = LogicalCPUs
	}

	cpus, err := counter()
	if err != nil {
		log.Debug().Err(err).Msg("Failed to count CPUs, using a single worker")
		cpus = 0
	}

	return Host{
		CPUs:     cpus,
		Workers:  max(1, cpus),
		Parallel: cpus > 1,
	}
}

// Env is the resolved environment handed to every later stage.
type Env struct {
	Mode Mode
	Host Host
}

// Detect resolves the mode from the process environment and sizes the host.
func Detect(override Mode, lookup func(string) (string, bool), counter CPUCounter) Env {
	mode := override
	if mode == "" {
		mode = Resolve(lookup)
	}

	return Env{
		Mode: mode,
		Host: DetectHost(counter),
	}
}
