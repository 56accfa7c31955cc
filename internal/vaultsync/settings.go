package vaultsync

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loudthoughts/loudthoughts/internal/render"
)

type UpdateMode string

const (
	UpdateOverwrite UpdateMode = "overwrite"
	UpdateAppend    UpdateMode = "append"
	UpdatePrepend   UpdateMode = "prepend"
	UpdateNew       UpdateMode = "new"
)

const DefaultFolderPath = "+ Inbox/AudioPen"

// Settings controls how notes land in the vault.
type Settings struct {
	VaultDir     string     `yaml:"vaultDir"`
	FolderPath   string     `yaml:"folderPath"`
	UpdateMode   UpdateMode `yaml:"updateMode"`
	TagsAsLinks  bool       `yaml:"tagsAsLinks"`
	LinkProperty string     `yaml:"linkProperty"`
	// NewLineType is windows, unixMac, or empty for no separator.
	NewLineType       string `yaml:"newLineType"`
	UseCustomTemplate bool   `yaml:"useCustomTemplate"`
	// MarkdownTemplate is a template path relative to VaultDir.
	MarkdownTemplate string `yaml:"markdownTemplate"`
	DateFormat       string `yaml:"dateFormat"`
	Debug            bool   `yaml:"debug"`
}

func DefaultSettings() Settings {
	return Settings{
		VaultDir:     ".",
		FolderPath:   "",
		UpdateMode:   UpdateNew,
		TagsAsLinks:  true,
		LinkProperty: render.DefaultLinkProperty,
		DateFormat:   render.DefaultDateFormat,
	}
}

// LoadSettings reads a YAML settings file over the defaults. A missing file
// yields the defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	path = strings.TrimSpace(path)
	if path == "" {
		return settings, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return Settings{}, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return settings, settings.Validate()
}

func (s Settings) Validate() error {
	switch s.UpdateMode {
	case UpdateOverwrite, UpdateAppend, UpdatePrepend, UpdateNew:
	default:
		return fmt.Errorf("invalid update mode %q", s.UpdateMode)
	}
	switch s.NewLineType {
	case "", "windows", "unixMac":
	default:
		return fmt.Errorf("invalid newline type %q", s.NewLineType)
	}
	if s.UseCustomTemplate && strings.TrimSpace(s.MarkdownTemplate) == "" {
		return errors.New("custom template enabled without markdownTemplate")
	}
	return nil
}

func (s Settings) newLine() string {
	switch s.NewLineType {
	case "windows":
		return "\r\n"
	case "unixMac":
		return "\n"
	default:
		return ""
	}
}

func (s Settings) folder() string {
	if strings.TrimSpace(s.FolderPath) == "" {
		return DefaultFolderPath
	}
	return s.FolderPath
}

func (s Settings) renderer() render.Renderer {
	return render.Renderer{
		TagsAsLinks:  s.TagsAsLinks,
		LinkProperty: s.LinkProperty,
		DateFormat:   s.DateFormat,
	}
}
