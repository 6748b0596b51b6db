// Package commands holds the cobra surface. Commands stay thin: they load
// the config, call into the registry / extension / daemon packages and
// print. Visual-grouping failures are logged and swallowed here so registry
// operations never fail because the browser or extension is unreachable.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/extension"
	"github.com/corralhq/corral/internal/registry"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openRegistry(cfg *config.Config) *registry.Registry {
	return registry.New(cfg.RegistryPath)
}

// decorateGroup applies a registry group's name and color to the browser's
// visual tab group for the given native tab ids. Best-effort: failures are
// logged, never returned. The browser-side group id is recorded on first
// success so later tabs join the same visual group.
func decorateGroup(cfg *config.Config, reg *registry.Registry, g *registry.TabGroup, nativeIDs []int) {
	if len(nativeIDs) == 0 {
		return
	}
	bridge := extension.New(reg)
	chromeID, err := bridge.GroupTabs(cfg.Endpoint(), nativeIDs, g.Name, g.Color, g.ChromeGroupID)
	if err != nil {
		slog.Warn("skipping visual grouping", "group", g.ID, "error", err)
		return
	}
	if g.ChromeGroupID == 0 && chromeID != 0 {
		if err := reg.SetChromeGroupID(g.ID, chromeID); err != nil {
			slog.Warn("failed to record browser group id", "group", g.ID, "error", err)
		}
	}
}

func renderTable(headers []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range header {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, len(headers))
	for i := range headers {
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
