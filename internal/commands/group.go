package commands

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/extension"
)

var (
	groupName  string
	groupColor string
)

// GroupCmd groups the tab-group subcommands.
var GroupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage owned tab groups",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new tab group",
	RunE:  runGroupCreate,
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tab groups",
	RunE:  runGroupList,
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete <group-id>",
	Short: "Delete a tab group and release its tabs",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupDelete,
}

func init() {
	groupCreateCmd.Flags().StringVar(&groupName, "name", "", "group name")
	groupCreateCmd.Flags().StringVar(&groupColor, "color", "", "group color (grey, blue, red, yellow, green, pink, purple, cyan)")
	GroupCmd.AddCommand(groupCreateCmd)
	GroupCmd.AddCommand(groupListCmd)
	GroupCmd.AddCommand(groupDeleteCmd)
}

func runGroupCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := openRegistry(cfg)

	g, err := reg.CreateGroup(groupName, groupColor)
	if err != nil {
		return err
	}
	fmt.Printf("Created group %s (%s)\n", g.ID, g.Name)
	return nil
}

func runGroupList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := openRegistry(cfg)

	groups, err := reg.ListGroups()
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No tab groups")
		return nil
	}

	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, []string{
			g.ID,
			g.Name,
			g.Color,
			strconv.Itoa(g.TabCount),
			g.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	fmt.Println(renderTable([]string{"ID", "Name", "Color", "Tabs", "Created"}, rows))
	return nil
}

func runGroupDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := openRegistry(cfg)
	groupID := args[0]

	// Native ids must be collected before the cascade removes the entries.
	var nativeIDs []int
	if tabs, err := reg.TabsInGroup(groupID); err == nil {
		for _, tab := range tabs {
			if tab.NativeTabID != 0 {
				nativeIDs = append(nativeIDs, tab.NativeTabID)
			}
		}
	}

	removed, err := reg.DeleteGroup(groupID)
	if err != nil {
		return err
	}

	if len(nativeIDs) > 0 {
		bridge := extension.New(reg)
		if err := bridge.UngroupTabs(cfg.Endpoint(), nativeIDs); err != nil {
			slog.Warn("skipping visual ungrouping", "group", groupID, "error", err)
		}
	}

	fmt.Printf("Deleted group %s, released %d tabs\n", groupID, len(removed))
	return nil
}
