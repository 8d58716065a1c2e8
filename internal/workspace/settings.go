package workspace

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/turtacn/Fopwatch/pkg/consts"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"gopkg.in/yaml.v3"
)

const settingsFile = "settings.yaml"

// Settings is the per-workspace state persisted between sessions. Paths are
// relative to the workspace root.
type Settings struct {
	SelectedXML  string   `yaml:"selected_xml,omitempty"`
	SelectedXSL  string   `yaml:"selected_xsl,omitempty"`
	AutoGenerate bool     `yaml:"auto_generate"`
	OpenFiles    []string `yaml:"open_files,omitempty"`
}

// SettingsPath returns where the settings for root live.
func SettingsPath(root string) string {
	return filepath.Join(root, consts.WorkspaceMetaDir, settingsFile)
}

// LoadSettings reads the settings for root. A missing file yields zero settings.
func LoadSettings(root string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(SettingsPath(root))
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fperrors.New(fperrors.ErrCodeWorkspaceIO, "LoadSettings", "cannot read settings", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fperrors.New(fperrors.ErrCodeWorkspaceIO, "LoadSettings", "malformed settings", err)
	}
	return s, nil
}

// SaveSettings writes s for root, creating the metadata directory as needed.
func SaveSettings(root string, s Settings) error {
	path := SettingsPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fperrors.New(fperrors.ErrCodeWorkspaceIO, "SaveSettings", "cannot create metadata dir", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fperrors.New(fperrors.ErrCodeWorkspaceIO, "SaveSettings", "cannot encode settings", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fperrors.New(fperrors.ErrCodeWorkspaceIO, "SaveSettings", "cannot write settings", err)
	}
	return nil
}

// Personal.AI order the ending
