package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/jask/focusguard/internal/policy"
)

const activeFile = "active.json"

// Active is the identity and role the app opens with.
type Active struct {
	Identity string      `json:"identity"`
	Role     policy.Role `json:"role,omitempty"`
}

// Dir returns the preference directory, creating it when missing. An empty
// base resolves to the user config dir.
func Dir(base string) (string, error) {
	if base == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", errors.Wrap(err, "user config dir")
		}
		base = filepath.Join(dir, "focusguard")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", errors.Wrap(err, "mkdir prefs dir")
	}
	return base, nil
}

func SaveActive(base string, a Active) error {
	a.Identity = strings.TrimSpace(a.Identity)
	if a.Identity == "" {
		return errors.New("identity required")
	}
	if a.Role != policy.RoleUnset && !a.Role.Valid() {
		return errors.Errorf("unknown role %q", a.Role)
	}
	dir, err := Dir(base)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, activeFile)
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadActive returns the saved selection, or ok=false when none was saved.
func LoadActive(base string) (Active, bool, error) {
	dir, err := Dir(base)
	if err != nil {
		return Active{}, false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, activeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Active{}, false, nil
		}
		return Active{}, false, err
	}
	var a Active
	if err := json.Unmarshal(data, &a); err != nil {
		return Active{}, false, errors.Wrap(err, "parse active prefs")
	}
	if !a.Role.Valid() {
		a.Role = policy.RoleUnset
	}
	return a, a.Identity != "", nil
}
