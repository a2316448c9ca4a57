// Package schedules reads and writes YAML schedule documents, either a single
// file holding every schedule or a directory with one file per schedule.
package schedules

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/config"
	"github.com/Veraticus/beanschedule/internal/model"
)

// Locations searched by Discover.
const (
	EnvDir          = "BEANSCHEDULE_DIR"
	EnvFile         = "BEANSCHEDULE_FILE"
	DefaultDir      = "schedules"
	DefaultFile     = "schedules.yaml"
	ConfigFileName  = "_config.yaml"
	scheduleFileExt = ".yaml"
)

// Location is a discovered schedule source.
type Location struct {
	Path  string
	IsDir bool
}

// Discover finds the schedule source. The environment variables take
// precedence over the working directory, and a directory over a file.
func Discover() (Location, bool) {
	if dir := os.Getenv(EnvDir); dir != "" {
		dir = config.ExpandPath(dir)
		if isDir(dir) {
			return Location{Path: dir, IsDir: true}, true
		}
		slog.Warn("Schedule directory does not exist", "env", EnvDir, "path", dir)
	}

	if file := os.Getenv(EnvFile); file != "" {
		file = config.ExpandPath(file)
		if isFile(file) {
			return Location{Path: file}, true
		}
		slog.Warn("Schedule file does not exist", "env", EnvFile, "path", file)
	}

	if isDir(DefaultDir) {
		return Location{Path: DefaultDir, IsDir: true}, true
	}
	if isFile(DefaultFile) {
		return Location{Path: DefaultFile}, true
	}
	return Location{}, false
}

// Load reads schedules from path, which may be a file or a directory. An
// empty path discovers the location.
func Load(path string) (*model.ScheduleFile, error) {
	if path == "" {
		loc, ok := Discover()
		if !ok {
			return nil, fmt.Errorf("%w: no schedules directory or file found", common.ErrNoSchedules)
		}
		path = loc.Path
	}

	path = config.ExpandPath(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat schedules at %s: %w", path, err)
	}
	if info.IsDir() {
		return LoadDirectory(path)
	}
	return LoadFile(path)
}

// LoadFile reads a single schedule document. An empty document yields an
// empty file with default settings. Any invalid schedule fails the load.
func LoadFile(path string) (*model.ScheduleFile, error) {
	slog.Info("Loading schedules", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedules file: %w", err)
	}

	file := model.NewScheduleFile()
	if len(bytes.TrimSpace(data)) == 0 {
		slog.Warn("Empty schedules file", "path", path)
		return file, nil
	}
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", common.ErrInvalidConfig, path, err)
	}
	for i := range file.Schedules {
		file.Schedules[i].SourceFile = path
	}

	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	slog.Info("Loaded schedules",
		"path", path,
		"schedules", len(file.Schedules),
		"enabled", len(Enabled(file)))

	return file, nil
}

// LoadDirectory reads one schedule per <id>.yaml file plus an optional
// _config.yaml. Invalid and duplicate schedules are logged and skipped so one
// bad file does not disable the rest.
func LoadDirectory(dir string) (*model.ScheduleFile, error) {
	slog.Info("Loading schedules from directory", "path", dir)

	file, problems, err := readDirectory(dir)
	if err != nil {
		return nil, err
	}
	for _, p := range problems {
		common.LogError(p, "Skipping schedule", nil)
	}

	slog.Info("Loaded schedules",
		"path", dir,
		"schedules", len(file.Schedules),
		"enabled", len(Enabled(file)))

	return file, nil
}

// Verify loads the schedules at path and reports every problem found,
// including the files a directory load would skip. A nil file means nothing
// could be loaded.
func Verify(path string) (*model.ScheduleFile, []error) {
	if path == "" {
		loc, ok := Discover()
		if !ok {
			return nil, []error{fmt.Errorf("%w: no schedules directory or file found", common.ErrNoSchedules)}
		}
		path = loc.Path
	}
	path = config.ExpandPath(path)

	if !isDir(path) {
		file, err := LoadFile(path)
		if err != nil {
			return nil, []error{err}
		}
		return file, nil
	}

	file, problems, err := readDirectory(path)
	if err != nil {
		return nil, []error{err}
	}
	return file, problems
}

func readDirectory(dir string) (*model.ScheduleFile, []error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read schedules directory: %w", err)
	}

	file := model.NewScheduleFile()
	var problems []error
	file.Config, err = loadGlobalConfig(filepath.Join(dir, ConfigFileName))
	if err != nil {
		problems = append(problems, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == ConfigFileName || strings.HasPrefix(name, ".") {
			continue
		}
		if filepath.Ext(name) != scheduleFileExt {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		schedule, err := loadScheduleFile(path)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if first, dup := seen[schedule.ID]; dup {
			problems = append(problems, fmt.Errorf("%s: %w: schedule ID %q already defined in %s",
				path, common.ErrDuplicateEntry, schedule.ID, first))
			continue
		}
		seen[schedule.ID] = path
		file.Schedules = append(file.Schedules, *schedule)
	}

	return file, problems, nil
}

// loadGlobalConfig reads _config.yaml. A missing or empty file yields the
// defaults; an unreadable or invalid one yields the defaults and an error.
func loadGlobalConfig(path string) (model.GlobalConfig, error) {
	cfg := model.DefaultGlobalConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	loaded := model.DefaultGlobalConfig()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return cfg, fmt.Errorf("%s: %w: %v", path, common.ErrInvalidConfig, err)
	}
	if err := loaded.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("Loaded global config", "path", path)
	return loaded, nil
}

func loadScheduleFile(path string) (*model.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty schedule file", common.ErrInvalidConfig)
	}

	var schedule model.Schedule
	if err := yaml.Unmarshal(data, &schedule); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	schedule.SourceFile = path

	if want := schedule.ID + scheduleFileExt; filepath.Base(path) != want {
		return nil, fmt.Errorf("%w: schedule ID %q does not match file name, expected %s",
			common.ErrInvalidConfig, schedule.ID, want)
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Enabled returns the enabled schedules of file. A nil file has none.
func Enabled(file *model.ScheduleFile) []model.Schedule {
	if file == nil {
		return nil
	}
	var out []model.Schedule
	for _, s := range file.Schedules {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Find returns the schedule with id.
func Find(file *model.ScheduleFile, id string) (*model.Schedule, error) {
	if file != nil {
		for i := range file.Schedules {
			if file.Schedules[i].ID == id {
				return &file.Schedules[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", common.ErrScheduleNotFound, id)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
