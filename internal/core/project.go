package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ProjectDirName is the per-project state directory.
	ProjectDirName = ".histkeep"
	dbFileName     = "histkeep.db"
	configFileName = "config.json"
)

// Project locates a histkeep store on disk.
type Project struct {
	Root   string
	Dir    string
	DBPath string
}

// ConfigPath returns the project config file path.
func (p Project) ConfigPath() string {
	return filepath.Join(p.Dir, configFileName)
}

func projectAt(root string) Project {
	dir := filepath.Join(root, ProjectDirName)
	return Project{Root: root, Dir: dir, DBPath: filepath.Join(dir, dbFileName)}
}

// DiscoverProject walks up from startDir to find a .histkeep directory.
func DiscoverProject(startDir string) (Project, error) {
	current := startDir
	if current == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Project{}, err
		}
		current = cwd
	}
	current, err := filepath.Abs(current)
	if err != nil {
		return Project{}, err
	}

	for {
		project := projectAt(current)
		info, err := os.Stat(project.Dir)
		if err == nil && info.IsDir() {
			if _, err := os.Stat(project.DBPath); err != nil {
				return Project{}, fmt.Errorf("histkeep database not found. Run 'histkeep init' first")
			}
			return project, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return Project{}, fmt.Errorf("not initialized. Run 'histkeep init' first")
		}
		current = parent
	}
}

// InitProject creates the .histkeep directory under dir. With force an
// existing database is removed.
func InitProject(dir string, force bool) (Project, error) {
	root := dir
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Project{}, err
		}
		root = cwd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return Project{}, err
	}
	project := projectAt(root)

	if info, err := os.Stat(project.Dir); err == nil && info.IsDir() && !force {
		return Project{}, fmt.Errorf("already initialized. Use --force to reinitialize")
	}
	if err := os.MkdirAll(project.Dir, 0o755); err != nil {
		return Project{}, err
	}
	EnsureGitignore(project.Dir)

	if force {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(project.DBPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return Project{}, err
			}
		}
	}
	return project, nil
}

// EnsureGitignore keeps the database and media cache out of version control.
func EnsureGitignore(dir string) {
	gitignore := filepath.Join(dir, ".gitignore")
	entries := []string{"*.db", "*.db-wal", "*.db-shm", defaultMediaDir + "/"}

	data, err := os.ReadFile(gitignore)
	if err != nil {
		_ = os.WriteFile(gitignore, []byte(strings.Join(entries, "\n")+"\n"), 0o644)
		return
	}
	content := string(data)

	lines := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		lines[strings.TrimSpace(line)] = true
	}
	var missing []string
	for _, entry := range entries {
		if !lines[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return
	}
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"
	_ = os.WriteFile(gitignore, []byte(content), 0o644)
}
