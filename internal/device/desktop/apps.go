package desktop

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"

	"droid-pilot/internal/device"
)

// applicationDirs lists where freedesktop launchers live.
func applicationDirs() []string {
	dirs := []string{"/usr/share/applications", "/usr/local/share/applications"}
	if home, err := homedir.Dir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "applications"))
	}
	return dirs
}

// scanApplications reads every .desktop entry under dirs. The desktop file id
// is the package name; later directories override earlier ones.
func scanApplications(dirs []string) []device.App {
	byID := make(map[string]device.App)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".desktop") {
				continue
			}
			f, err := os.Open(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			name, ok := parseDesktopEntry(f)
			f.Close()
			if !ok {
				continue
			}
			id := strings.TrimSuffix(e.Name(), ".desktop")
			byID[id] = device.App{Package: id, Label: name}
		}
	}

	apps := make([]device.App, 0, len(byID))
	for _, app := range byID {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Package < apps[j].Package })
	return apps
}

// parseDesktopEntry returns the Name of a launchable [Desktop Entry].
func parseDesktopEntry(r io.Reader) (string, bool) {
	var (
		name      string
		inEntry   bool
		hidden    bool
		isAppType = true
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "[") {
			inEntry = line == "[Desktop Entry]"
			continue
		}
		if !inEntry {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Name":
			name = strings.TrimSpace(value)
		case "NoDisplay", "Hidden":
			hidden = hidden || strings.EqualFold(strings.TrimSpace(value), "true")
		case "Type":
			isAppType = strings.TrimSpace(value) == "Application"
		}
	}
	return name, name != "" && !hidden && isAppType
}
