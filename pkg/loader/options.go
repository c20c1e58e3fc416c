package loader

import "log/slog"

// Write modes.
const (
	ModeUpsert = "upsert"
	ModeAppend = "append"
)

// DefaultIndexElements is the conflict target used when none is configured.
var DefaultIndexElements = []string{"id"}

// Options tunes how a table is written. A nil slice means "not set" and
// falls through to the next source; an empty non-nil slice is an explicit
// empty value.
type Options struct {
	IndexElements     []string `koanf:"index_elements" yaml:"index_elements,omitempty"`
	ExcludeFromUpdate []string `koanf:"exclude_from_update" yaml:"exclude_from_update,omitempty"`
	Columns           []string `koanf:"columns" yaml:"columns,omitempty"`
}

// resolveOptions merges the per-table entry of global, the node-level
// options and the defaults, in that order of precedence. A global map
// without an entry for table logs a warning.
func resolveOptions(table string, global map[string]Options, node Options, logger *slog.Logger) Options {
	var specific Options
	if global != nil {
		entry, ok := global[table]
		if ok {
			specific = entry
		} else {
			logger.Warn("table not found in global upsert config, using defaults", slog.String("table", table))
		}
	}

	pick := func(fromGlobal, fromNode, fallback []string) []string {
		if fromGlobal != nil {
			return fromGlobal
		}
		if fromNode != nil {
			return fromNode
		}
		return fallback
	}

	return Options{
		IndexElements:     pick(specific.IndexElements, node.IndexElements, DefaultIndexElements),
		ExcludeFromUpdate: pick(specific.ExcludeFromUpdate, node.ExcludeFromUpdate, nil),
		Columns:           pick(specific.Columns, node.Columns, nil),
	}
}
