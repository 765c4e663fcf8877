// Package bootstrap loads the seed topology into an empty database at
// process startup. It is a no-op once any alarm exists, since that is
// the signal the deployment is already live.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/silentline/sentinel/internal/broker/seed"
	"github.com/silentline/sentinel/internal/broker/store"
)

// Run loads seedPath (if non-empty) into st, but only when the alarms
// table is still empty. seedPath's extension picks the parser:
// ".yaml"/".yml" for YAML, anything else for JSON.
func Run(ctx context.Context, st *store.Store, seedPath string) error {
	if seedPath == "" {
		slog.Info("bootstrap: no seed path configured, skipping")
		return nil
	}

	alarms, err := st.ListAlarms(ctx, store.AlarmFilter{Limit: 1})
	if err != nil {
		return fmt.Errorf("check existing alarms: %w", err)
	}
	if len(alarms) > 0 {
		slog.Info("bootstrap: skipped (alarms already exist)")
		return nil
	}

	raw, err := os.ReadFile(seedPath)
	if err != nil {
		return fmt.Errorf("read seed file %s: %w", seedPath, err)
	}

	contentType := "application/json"
	if isYAMLPath(seedPath) {
		contentType = "application/yaml"
	}

	doc, err := seed.Parse(contentType, raw)
	if err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	if err := seed.Apply(ctx, st, doc); err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}

	slog.Info("bootstrap: seeded topology",
		"sites", len(doc.Sites), "rooms", len(doc.Rooms),
		"persons", len(doc.Persons), "devices", len(doc.Devices),
		"escalation_targets", len(doc.EscalationTargets),
	)
	return nil
}

func isYAMLPath(path string) bool {
	n := len(path)
	return (n >= 5 && path[n-5:] == ".yaml") || (n >= 4 && path[n-4:] == ".yml")
}
