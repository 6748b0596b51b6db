package extension

import (
	"encoding/json"
	"fmt"
)

// NoGroup is the browser's group id for an ungrouped tab
// (chrome.tabGroups.TAB_GROUP_ID_NONE).
const NoGroup = -1

// NativeGroup is a visual tab group as the browser itself sees it.
type NativeGroup struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Color     string `json:"color"`
	Collapsed bool   `json:"collapsed"`
	WindowID  int    `json:"windowId"`
}

// NativeTab is a tab in the extension's namespace. Its ID is the browser's
// internal tab id, not the CDP target id.
type NativeTab struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	GroupID  int    `json:"groupId"`
	WindowID int    `json:"windowId"`
	Active   bool   `json:"active"`
}

// GroupUpdate carries the mutable attributes of a native group. Nil fields
// are left unchanged.
type GroupUpdate struct {
	Title     *string `json:"title,omitempty"`
	Color     *string `json:"color,omitempty"`
	Collapsed *bool   `json:"collapsed,omitempty"`
}

// callExpr builds the evaluate expression for one bridge method. Arguments
// travel as a single JSON object literal.
func callExpr(method string, arg interface{}) (string, error) {
	if arg == nil {
		return fmt.Sprintf("%s.%s()", bridgeGlobal, method), nil
	}
	data, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s arguments: %w", method, err)
	}
	return fmt.Sprintf("%s.%s(%s)", bridgeGlobal, method, data), nil
}

func (b *Bridge) call(endpoint, method string, arg, out interface{}) error {
	expr, err := callExpr(method, arg)
	if err != nil {
		return err
	}
	res, err := b.Call(endpoint, expr)
	if err != nil {
		return err
	}
	if out == nil || res == nil {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// GroupTabs groups the given native tabs under a title and color, returning
// the native group id. When existingGroupID is non-zero the tabs join that
// group instead of a new one.
func (b *Bridge) GroupTabs(endpoint string, tabIDs []int, title, color string, existingGroupID int) (int, error) {
	arg := map[string]interface{}{
		"tabIds": tabIDs,
		"title":  title,
	}
	if color != "" {
		arg["color"] = color
	}
	if existingGroupID != 0 {
		arg["groupId"] = existingGroupID
	}
	var groupID int
	if err := b.call(endpoint, "groupTabs", arg, &groupID); err != nil {
		return 0, err
	}
	return groupID, nil
}

// UngroupTabs removes the given native tabs from whatever groups they are in.
func (b *Bridge) UngroupTabs(endpoint string, tabIDs []int) error {
	return b.call(endpoint, "ungroupTabs", map[string]interface{}{"tabIds": tabIDs}, nil)
}

// UpdateGroup changes a native group's title, color or collapsed state.
func (b *Bridge) UpdateGroup(endpoint string, groupID int, upd GroupUpdate) error {
	arg := map[string]interface{}{"groupId": groupID}
	if upd.Title != nil {
		arg["title"] = *upd.Title
	}
	if upd.Color != nil {
		arg["color"] = *upd.Color
	}
	if upd.Collapsed != nil {
		arg["collapsed"] = *upd.Collapsed
	}
	return b.call(endpoint, "updateGroup", arg, nil)
}

// ListNativeGroups enumerates the browser's visual tab groups.
func (b *Bridge) ListNativeGroups(endpoint string) ([]NativeGroup, error) {
	var groups []NativeGroup
	if err := b.call(endpoint, "listGroups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ListNativeTabs enumerates every tab with its native group membership.
func (b *Bridge) ListNativeTabs(endpoint string) ([]NativeTab, error) {
	var tabs []NativeTab
	if err := b.call(endpoint, "listTabs", nil, &tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

// CreateTab opens a new tab and returns it, including its native id. This is
// the preferred way to obtain a native handle: the id comes straight from
// the creation call instead of fuzzy correlation.
func (b *Bridge) CreateTab(endpoint, url string) (*NativeTab, error) {
	var tab NativeTab
	if err := b.call(endpoint, "createTab", map[string]interface{}{"url": url}, &tab); err != nil {
		return nil, err
	}
	return &tab, nil
}

// CloseTab closes a tab by its native id.
func (b *Bridge) CloseTab(endpoint string, tabID int) error {
	return b.call(endpoint, "closeTab", map[string]interface{}{"tabId": tabID}, nil)
}

// FindTabByPage correlates a page to a native tab by (url, title). The CDP
// target namespace and the extension's tab namespace share no identifier, so
// this is advisory only: among duplicate URLs the title breaks the tie, and
// failing that the first match wins arbitrarily.
func (b *Bridge) FindTabByPage(endpoint, url, title string) (*NativeTab, bool, error) {
	tabs, err := b.ListNativeTabs(endpoint)
	if err != nil {
		return nil, false, err
	}

	var byURL []*NativeTab
	for i := range tabs {
		if tabs[i].URL == url {
			byURL = append(byURL, &tabs[i])
		}
	}
	switch len(byURL) {
	case 0:
		return nil, false, nil
	case 1:
		return byURL[0], true, nil
	}
	for _, tab := range byURL {
		if tab.Title == title {
			return tab, true, nil
		}
	}
	return byURL[0], true, nil
}
