package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/cdp"
	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/extension"
	"github.com/corralhq/corral/internal/registry"
)

var (
	tabGroupID  string
	tabNativeID int
)

// TabCmd groups the tab subcommands.
var TabCmd = &cobra.Command{
	Use:   "tab",
	Short: "Manage tabs owned by tab groups",
}

var tabAddCmd = &cobra.Command{
	Use:   "add <target-id>",
	Short: "Claim an existing tab for a group",
	Args:  cobra.ExactArgs(1),
	RunE:  runTabAdd,
}

var tabRemoveCmd = &cobra.Command{
	Use:   "remove <target-id>",
	Short: "Release a tab from its group",
	Args:  cobra.ExactArgs(1),
	RunE:  runTabRemove,
}

var tabListCmd = &cobra.Command{
	Use:   "list",
	Short: "List owned tabs",
	RunE:  runTabList,
}

var tabOpenCmd = &cobra.Command{
	Use:   "open <url>",
	Short: "Open a new tab and claim it for a group",
	Args:  cobra.ExactArgs(1),
	RunE:  runTabOpen,
}

var tabCloseCmd = &cobra.Command{
	Use:   "close <target-id>",
	Short: "Close an owned tab",
	Args:  cobra.ExactArgs(1),
	RunE:  runTabClose,
}

func init() {
	tabAddCmd.Flags().StringVar(&tabGroupID, "group", "", "owning group id")
	tabAddCmd.Flags().IntVar(&tabNativeID, "native-id", 0, "browser-internal tab id, if known")
	tabAddCmd.MarkFlagRequired("group")
	tabOpenCmd.Flags().StringVar(&tabGroupID, "group", "", "owning group id")
	tabOpenCmd.MarkFlagRequired("group")

	TabCmd.AddCommand(tabAddCmd)
	TabCmd.AddCommand(tabRemoveCmd)
	TabCmd.AddCommand(tabListCmd)
	TabCmd.AddCommand(tabOpenCmd)
	TabCmd.AddCommand(tabCloseCmd)
}

func runTabAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := openRegistry(cfg)
	targetID := args[0]

	nativeID := tabNativeID
	if nativeID == 0 {
		// Best-effort correlation by (url, title); the namespaces share no
		// identifier.
		if tgt := lookupTarget(cfg, targetID); tgt != nil {
			bridge := extension.New(reg)
			if tab, found, err := bridge.FindTabByPage(cfg.Endpoint(), tgt.URL, tgt.Title); err == nil && found {
				nativeID = tab.ID
			}
		}
	}

	if err := reg.AddTab(targetID, tabGroupID, nativeID); err != nil {
		return err
	}

	if g, err := reg.GroupForTab(targetID); err == nil && nativeID != 0 {
		decorateGroup(cfg, reg, g, []int{nativeID})
	}

	fmt.Printf("Added tab %s to group %s\n", targetID, tabGroupID)
	return nil
}

func runTabRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := openRegistry(cfg)
	targetID := args[0]

	nativeID := nativeIDForTarget(reg, targetID)
	if err := reg.RemoveTab(targetID); err != nil {
		return err
	}

	if nativeID != 0 {
		bridge := extension.New(reg)
		if err := bridge.UngroupTabs(cfg.Endpoint(), []int{nativeID}); err != nil {
			slog.Warn("skipping visual ungrouping", "target", targetID, "error", err)
		}
	}

	fmt.Printf("Removed tab %s\n", targetID)
	return nil
}

func runTabList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := openRegistry(cfg)

	// Drop entries for tabs that no longer exist before showing anything.
	// Skipped when the browser is unreachable; listing still works offline.
	client := cdp.NewClient(cfg.Endpoint())
	if targets, err := client.Targets(); err == nil {
		live := make([]string, 0, len(targets))
		for _, tgt := range targets {
			live = append(live, tgt.ID)
		}
		if pruned, err := reg.PruneStale(live); err == nil && pruned > 0 {
			slog.Info("pruned stale tab entries", "count", pruned)
		}
	} else {
		slog.Warn("skipping stale-tab pruning", "error", err)
	}

	groups, err := reg.ListGroups()
	if err != nil {
		return err
	}

	var rows [][]string
	for _, g := range groups {
		tabs, err := reg.TabsInGroup(g.ID)
		if err != nil {
			return err
		}
		for _, tab := range tabs {
			nativeID := ""
			if tab.NativeTabID != 0 {
				nativeID = strconv.Itoa(tab.NativeTabID)
			}
			rows = append(rows, []string{
				tab.TargetID,
				g.Name,
				nativeID,
				tab.AddedAt.Format("2006-01-02 15:04:05"),
			})
		}
	}
	if len(rows) == 0 {
		fmt.Println("No owned tabs")
		return nil
	}
	fmt.Println(renderTable([]string{"Target", "Group", "Native ID", "Added"}, rows))
	return nil
}

func runTabOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := openRegistry(cfg)
	url := args[0]

	if err := daemon.EnsureRunning(cfg); err != nil {
		return err
	}

	bridge := extension.New(reg)
	tab, err := bridge.CreateTab(cfg.Endpoint(), url)
	if err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}

	targetID, err := waitForPageTarget(cfg, reg, url)
	if err != nil {
		return err
	}

	if err := reg.AddTab(targetID, tabGroupID, tab.ID); err != nil {
		return err
	}
	if g, err := reg.GroupForTab(targetID); err == nil {
		decorateGroup(cfg, reg, g, []int{tab.ID})
	}

	fmt.Printf("Opened tab %s in group %s\n", targetID, tabGroupID)
	return nil
}

func runTabClose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := openRegistry(cfg)
	targetID := args[0]

	nativeID := nativeIDForTarget(reg, targetID)
	if err := reg.RemoveTab(targetID); err != nil {
		return err
	}

	if nativeID == 0 {
		return fmt.Errorf("no browser-internal id recorded for %s; close the tab manually", targetID)
	}
	bridge := extension.New(reg)
	if err := bridge.CloseTab(cfg.Endpoint(), nativeID); err != nil {
		return fmt.Errorf("released %s from its group but failed to close it: %w", targetID, err)
	}

	fmt.Printf("Closed tab %s\n", targetID)
	return nil
}

// nativeIDForTarget digs the recorded browser-internal id out of the
// registry. Zero when the tab is unowned or was claimed without one.
func nativeIDForTarget(reg *registry.Registry, targetID string) int {
	g, err := reg.GroupForTab(targetID)
	if err != nil {
		return 0
	}
	tabs, err := reg.TabsInGroup(g.ID)
	if err != nil {
		return 0
	}
	for _, tab := range tabs {
		if tab.TargetID == targetID {
			return tab.NativeTabID
		}
	}
	return 0
}

func lookupTarget(cfg *config.Config, targetID string) *cdp.Target {
	targets, err := cdp.NewClient(cfg.Endpoint()).Targets()
	if err != nil {
		return nil
	}
	for i := range targets {
		if targets[i].ID == targetID {
			return &targets[i]
		}
	}
	return nil
}

// waitForPageTarget polls the target directory for an unowned page target
// with the given URL. The tab was just created natively, so the target shows
// up within a moment.
func waitForPageTarget(cfg *config.Config, reg *registry.Registry, url string) (string, error) {
	client := cdp.NewClient(cfg.Endpoint())
	for i := 0; i < 10; i++ {
		targets, err := client.Targets()
		if err == nil {
			for _, tgt := range targets {
				if tgt.Type != "page" || tgt.URL != url {
					continue
				}
				if _, err := reg.GroupForTab(tgt.ID); registry.IsNotFound(err) {
					return tgt.ID, nil
				}
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return "", fmt.Errorf("opened %s but could not find its debug target", url)
}
