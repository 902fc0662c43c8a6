// Package sl provides small slog attribute helpers shared across modules.
package sl

import "log/slog"

// Err wraps an error as a standard "error" attribute.
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Module tags a logger with the owning module name.
func Module(name string) slog.Attr {
	return slog.Attr{
		Key:   "module",
		Value: slog.StringValue(name),
	}
}

// Secret logs a sensitive value masked down to its last four characters.
func Secret(key, value string) slog.Attr {
	masked := "****"
	if n := len(value); n > 4 {
		masked = "****" + value[n-4:]
	}
	return slog.Attr{
		Key:   key,
		Value: slog.StringValue(masked),
	}
}
