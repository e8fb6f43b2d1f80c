package am

import (
	"sort"

	"github.com/teranos/bfhtw/errors"
)

// Validate checks that the configuration is usable.
// Schedule params are checked when triggers are built.
func (c *Config) Validate() error {
	if c.Scheduler.TickIntervalSeconds < 0 {
		return errors.NewConfigurationError("scheduler.tick_interval_seconds must be >= 0, got %d", c.Scheduler.TickIntervalSeconds)
	}
	if c.Scheduler.RetentionDays < 0 {
		return errors.NewConfigurationError("scheduler.retention_days must be >= 0, got %d", c.Scheduler.RetentionDays)
	}

	switch c.VectorSink.Backend {
	case "", "none", "sqlite-vec", "badger":
	default:
		return errors.NewConfigurationError("vector_sink.backend %q unknown (sqlite-vec, badger, none)", c.VectorSink.Backend)
	}
	if c.VectorSink.Dimensions < 0 {
		return errors.NewConfigurationError("vector_sink.dimensions must be >= 0, got %d", c.VectorSink.Dimensions)
	}

	if c.Inference.Enabled {
		switch c.Inference.Provider {
		case "openai", "mock":
		default:
			return errors.NewConfigurationError("inference.provider %q unknown (openai, mock)", c.Inference.Provider)
		}
	}

	if c.Sources.PMC.RequestsPerSecond < 0 {
		return errors.NewConfigurationError("sources.pmc.requests_per_second must be >= 0, got %f", c.Sources.PMC.RequestsPerSecond)
	}

	names := make([]string, 0, len(c.Pipelines))
	for name := range c.Pipelines {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := c.Pipelines[name]
		if p.BatchSize < 0 {
			return errors.NewConfigurationError("pipelines.%s.batch_size must be >= 0, got %d", name, p.BatchSize)
		}
		if p.MaxRetries < 0 {
			return errors.NewConfigurationError("pipelines.%s.max_retries must be >= 0, got %d", name, p.MaxRetries)
		}
		if p.MaxRuntimeMinutes < 0 {
			return errors.NewConfigurationError("pipelines.%s.max_runtime_minutes must be >= 0, got %d", name, p.MaxRuntimeMinutes)
		}
		switch p.Schedule.Type {
		case "", ScheduleManual, ScheduleHourly, ScheduleDaily, ScheduleWeekly:
		default:
			return errors.WithHint(
				errors.NewConfigurationError("pipelines.%s.schedule.type %q not supported", name, p.Schedule.Type),
				"use manual, hourly, daily or weekly")
		}
		for _, dep := range p.Dependencies {
			if dep == name {
				return errors.NewConfigurationError("pipelines.%s depends on itself", name)
			}
			if _, ok := c.Pipelines[dep]; !ok {
				return errors.NewConfigurationError("pipelines.%s depends on unknown pipeline %q", name, dep)
			}
		}
	}

	if cycle := findCycle(c.Pipelines, names); cycle != "" {
		return errors.NewConfigurationError("pipeline dependency cycle through %q", cycle)
	}
	return nil
}

// findCycle returns a pipeline on a dependency cycle, or "" when acyclic
func findCycle(pipelines map[string]PipelineConfig, names []string) string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(pipelines))

	var visit func(string) string
	visit = func(n string) string {
		switch state[n] {
		case visiting:
			return n
		case done:
			return ""
		}
		state[n] = visiting
		for _, dep := range pipelines[n].Dependencies {
			if hit := visit(dep); hit != "" {
				return hit
			}
		}
		state[n] = done
		return ""
	}

	for _, n := range names {
		if hit := visit(n); hit != "" {
			return hit
		}
	}
	return ""
}
