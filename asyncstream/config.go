package asyncstream

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/coreio/bithread/streamio"
)

// Config configures an async stream's page pool and coalescing behavior.
type Config struct {
	BufferSize         datasize.ByteSize `yaml:"buffer_size"`
	PageSize           datasize.ByteSize `yaml:"page_size"`
	MergeablePagesHint int               `yaml:"mergeable_pages_hint"`
	SubStreamsHint     int               `yaml:"sub_streams_hint"`
	NonBlockingSync    bool              `yaml:"non_blocking_sync"`
}

// DefaultConfig returns a Config sized for a handful of small sub-streams.
func DefaultConfig() Config {
	return Config{
		BufferSize:         64 * datasize.KB,
		PageSize:           4 * datasize.KB,
		MergeablePagesHint: 8,
		SubStreamsHint:     1,
	}
}

func (c Config) validate() error {
	if c.BufferSize <= 0 || c.PageSize <= 0 {
		return streamio.ErrArgument
	}
	return nil
}

func (c Config) maxPages() int {
	n := int(c.BufferSize / c.PageSize)
	if n < 1 {
		n = 1
	}
	return n
}

// String implements fmt.Stringer for log lines.
func (c Config) String() string {
	return fmt.Sprintf("Config{buffer=%s page=%s mergeable_hint=%d sub_streams_hint=%d non_blocking_sync=%t}",
		c.BufferSize, c.PageSize, c.MergeablePagesHint, c.SubStreamsHint, c.NonBlockingSync)
}

// LoadConfig unmarshals a Config from YAML and validates it.
func LoadConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// String implements fmt.Stringer for log lines.
func (s Stats) String() string {
	return fmt.Sprintf("Stats{appended=%d not_appended=%d merged=%d full=%d intersects=%d syscalls=%d written=%d queue_depth_sum=%d ops_dequeued=%d}",
		s.Appended, s.NotAppended, s.FoundForMerge, s.FoundButFull, s.FoundButIntersects, s.Syscalls, s.TotalWritten,
		s.OpQueueLengthSum, s.OpsDequeued)
}

// Stats tracks write-coalescing and worker activity for observability.
// Nothing about correctness depends on these counters.
type Stats struct {
	Appended           uint64
	NotAppended        uint64
	FoundForMerge      uint64
	FoundButFull       uint64
	FoundButIntersects uint64
	Syscalls           uint64
	TotalWritten       uint64

	// OpQueueLengthSum accumulates the queue length observed by the worker
	// each time it dequeues an op; OpsDequeued is the number of samples.
	// OpQueueLengthSum/OpsDequeued gives the mean backlog depth, the
	// running equivalent of the original's queue-length histogram.
	OpQueueLengthSum uint64
	OpsDequeued      uint64
}
