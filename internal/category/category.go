// Package category assigns usage categories to application names.
// Screen-time events arriving without a category are classified here
// before they are published.
package category

import "strings"

// Other is the fallback category for unrecognized apps.
const Other = "Other"

type appCategory struct {
	name     string
	category string
}

// appCategories maps known application names to their category.
// Order matters: partial matching scans the list front to back, so
// earlier entries win for ambiguous names.
var appCategories = []appCategory{
	// Web browsers
	{"Google Chrome", "Web Browsing"},
	{"Mozilla Firefox", "Web Browsing"},
	{"Firefox", "Web Browsing"},
	{"Safari", "Web Browsing"},
	{"Microsoft Edge", "Web Browsing"},
	{"Opera", "Web Browsing"},
	{"Brave", "Web Browsing"},
	{"Arc", "Web Browsing"},

	// Development and productivity
	{"Visual Studio Code", "Productivity"},
	{"VS Code", "Productivity"},
	{"PyCharm", "Productivity"},
	{"IntelliJ IDEA", "Productivity"},
	{"Sublime Text", "Productivity"},
	{"Vim", "Productivity"},
	{"Emacs", "Productivity"},
	{"Android Studio", "Productivity"},
	{"Xcode", "Productivity"},

	// Office and documents
	{"Microsoft Word", "Productivity"},
	{"Microsoft Excel", "Productivity"},
	{"Microsoft PowerPoint", "Productivity"},
	{"Google Docs", "Productivity"},
	{"Google Sheets", "Productivity"},
	{"Notion", "Productivity"},
	{"Obsidian", "Productivity"},
	{"OneNote", "Productivity"},

	// Communication
	{"Slack", "Communication"},
	{"Microsoft Teams", "Communication"},
	{"Discord", "Communication"},
	{"Zoom", "Communication"},
	{"Skype", "Communication"},
	{"WhatsApp", "Communication"},
	{"Telegram", "Communication"},
	{"Signal", "Communication"},

	// Entertainment and media
	{"Spotify", "Entertainment"},
	{"YouTube Music", "Entertainment"},
	{"Apple Music", "Entertainment"},
	{"VLC media player", "Entertainment"},
	{"Netflix", "Entertainment"},
	{"YouTube", "Entertainment"},
	{"Twitch", "Entertainment"},
	{"Steam", "Entertainment"},

	// Terminals
	{"Terminal", "Development"},
	{"Command Prompt", "Development"},
	{"PowerShell", "Development"},
	{"iTerm2", "Development"},
	{"Windows Terminal", "Development"},
	{"Git Bash", "Development"},

	// Design
	{"Adobe Photoshop", "Design"},
	{"Adobe Illustrator", "Design"},
	{"Figma", "Design"},
	{"Sketch", "Design"},
	{"Canva", "Design"},
	{"GIMP", "Design"},
	{"Blender", "Design"},

	// Finance
	{"QuickBooks", "Finance"},
	{"Mint", "Finance"},

	// Social media
	{"Facebook", "Social Media"},
	{"Twitter", "Social Media"},
	{"Instagram", "Social Media"},
	{"LinkedIn", "Social Media"},
	{"TikTok", "Social Media"},
	{"Reddit", "Social Media"},
}

// keywordCategories classify by substring when no app name matches,
// checked in order.
var keywordCategories = []struct {
	keywords []string
	category string
}{
	{[]string{"chrome", "firefox", "safari", "edge", "browser"}, "Web Browsing"},
	{[]string{"code", "studio", "pycharm", "intellij", "vim", "emacs"}, "Productivity"},
	{[]string{"terminal", "cmd", "powershell", "bash", "shell"}, "Development"},
	{[]string{"word", "excel", "powerpoint", "office", "docs", "sheets"}, "Productivity"},
	{[]string{"slack", "teams", "discord", "zoom", "skype", "chat"}, "Communication"},
	{[]string{"spotify", "music", "video", "player", "media"}, "Entertainment"},
}

// Categorize returns the usage category for an app name. Exact matches
// win; otherwise partial name matches, then keyword matches; unknown
// apps fall back to Other.
func Categorize(appName string) string {
	if appName == "" {
		return Other
	}
	for _, ac := range appCategories {
		if ac.name == appName {
			return ac.category
		}
	}

	appLower := strings.ToLower(appName)
	for _, ac := range appCategories {
		knownLower := strings.ToLower(ac.name)
		if strings.Contains(appLower, knownLower) || strings.Contains(knownLower, appLower) {
			return ac.category
		}
	}

	for _, kc := range keywordCategories {
		for _, kw := range kc.keywords {
			if strings.Contains(appLower, kw) {
				return kc.category
			}
		}
	}

	return Other
}
