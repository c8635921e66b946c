package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dirigent/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the ids of services and jobs
// that were added, removed, or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.bus_enabled", newCfg.Logging.Bus.Enabled),
		)
	}

	// History. Section may be nil (disabled).
	var oEnabled, nEnabled, oPathSet, nPathSet bool
	if oldCfg.History != nil {
		oEnabled = oldCfg.History.Enabled
		oPathSet = strings.TrimSpace(oldCfg.History.Path) != ""
	}
	if newCfg.History != nil {
		nEnabled = newCfg.History.Enabled
		nPathSet = strings.TrimSpace(newCfg.History.Path) != ""
	}
	if oEnabled != nEnabled || oPathSet != nPathSet {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.Bool("history.enabled", nEnabled),
			logx.Bool("history.path_set", nPathSet),
		)
	}

	touched := make([]string, 0, 4)

	if ids := diffServices(oldCfg.Services, newCfg.Services); len(ids) > 0 {
		changed = append(changed, "services")
		attrs = append(attrs,
			logx.Int("services.changed_count", len(ids)),
			logx.Int("services.count", len(newCfg.Services)),
		)
		touched = append(touched, ids...)
	}

	if ids := diffJobs(oldCfg.Jobs, newCfg.Jobs); len(ids) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(ids)),
			logx.Int("jobs.count", len(newCfg.Jobs)),
		)
		touched = append(touched, ids...)
	}

	if strings.TrimSpace(oldCfg.ShutdownGrace) != strings.TrimSpace(newCfg.ShutdownGrace) {
		changed = append(changed, "shutdown_grace")
		attrs = append(attrs, logx.String("shutdown_grace", strings.TrimSpace(newCfg.ShutdownGrace)))
	}

	sort.Strings(changed)
	sort.Strings(touched)
	return changed, attrs, touched
}

func diffServices(oldS, newS []ServiceConfig) []string {
	oldM := make(map[string]ServiceConfig, len(oldS))
	for _, s := range oldS {
		oldM[s.ID] = s
	}
	newM := make(map[string]ServiceConfig, len(newS))
	for _, s := range newS {
		newM[s.ID] = s
	}

	out := make([]string, 0, len(newM))
	for id, n := range newM {
		o, ok := oldM[id]
		if !ok || !reflect.DeepEqual(o, n) {
			out = append(out, id)
		}
	}
	for id := range oldM {
		if _, ok := newM[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func diffJobs(oldJ, newJ []JobConfig) []string {
	oldM := make(map[string]JobConfig, len(oldJ))
	for _, j := range oldJ {
		oldM[j.ID] = j
	}
	newM := make(map[string]JobConfig, len(newJ))
	for _, j := range newJ {
		newM[j.ID] = j
	}

	out := make([]string, 0, len(newM))
	for id, n := range newM {
		o, ok := oldM[id]
		if !ok || !reflect.DeepEqual(o, n) {
			out = append(out, id)
		}
	}
	for id := range oldM {
		if _, ok := newM[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
