package vaultsync

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loudthoughts/loudthoughts/internal/provider"
	"github.com/loudthoughts/loudthoughts/internal/render"
)

const (
	frontmatterIDKey = "audioPenID"
	maxFileNameRunes = 250
)

var ErrSinkApply = errors.New("sink apply failed")

// SinkApplyError wraps a failure to write one note into the vault. The note
// stays in the buffer.
type SinkApplyError struct {
	NoteID string
	Err    error
}

func (e *SinkApplyError) Error() string {
	return fmt.Sprintf("apply note %s: %v", e.NoteID, e.Err)
}

func (e *SinkApplyError) Unwrap() error {
	return e.Err
}

func (e *SinkApplyError) Is(target error) bool {
	return target == ErrSinkApply
}

// Sink receives reconciled notes one at a time.
type Sink interface {
	Apply(ctx context.Context, note provider.Note) error
}

// TemplateSource yields the markdown template for the next note.
type TemplateSource interface {
	Template() (string, error)
}

// VaultSink writes notes as markdown files under a vault directory. A note
// is matched to an existing file through the audioPenID frontmatter field,
// so re-applying a note never creates a second unrelated file.
type VaultSink struct {
	settings  Settings
	renderer  render.Renderer
	templates TemplateSource
}

func NewVaultSink(settings Settings, templates TemplateSource) (*VaultSink, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(settings.VaultDir) == "" {
		return nil, errors.New("vault dir is required")
	}
	if settings.UseCustomTemplate && templates == nil {
		return nil, errors.New("custom template enabled without a template source")
	}
	return &VaultSink{
		settings:  settings,
		renderer:  settings.renderer(),
		templates: templates,
	}, nil
}

func (v *VaultSink) Apply(ctx context.Context, note provider.Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.apply(note); err != nil {
		return &SinkApplyError{NoteID: note.ID, Err: err}
	}
	return nil
}

func (v *VaultSink) apply(note provider.Note) error {
	template, err := v.template()
	if err != nil {
		return err
	}
	rendered := v.renderer.Render(template, note)

	existing, err := v.findByNoteID(note.ID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		err := createExclusive(v.filePath(note.Title), rendered)
		if err == nil {
			return nil
		}
		_, when, ok := render.NoteTime(note, nil)
		if !ok {
			return err
		}
		dated := fmt.Sprintf("%s-%s", note.Title, render.FormatMoment(when, render.DefaultDateFormat))
		return createExclusive(v.filePath(dated), rendered)
	}

	version := len(existing) + 1
	if v.settings.UpdateMode == UpdateNew {
		return createExclusive(v.filePath(fmt.Sprintf("%s V%d", note.Title, version)), rendered)
	}

	target := existing[0]
	current, err := os.ReadFile(target)
	if err != nil {
		return err
	}
	nl := v.settings.newLine()
	content := render.NormalizeContent(note.Content)
	var updated string
	switch v.settings.UpdateMode {
	case UpdateOverwrite:
		updated = rendered
	case UpdateAppend:
		updated = fmt.Sprintf("%s%s#V%d%s%s", current, nl, version, nl, content)
	case UpdatePrepend:
		updated = fmt.Sprintf("#V%d%s%s%s%s", version, nl, content, nl, current)
	default:
		return fmt.Errorf("invalid update mode %q", v.settings.UpdateMode)
	}
	return writeFileAtomic(target, []byte(updated), 0o644)
}

func (v *VaultSink) template() (string, error) {
	if !v.settings.UseCustomTemplate {
		return v.renderer.DefaultTemplate(), nil
	}
	return v.templates.Template()
}

// filePath maps a title to <vault>/<folder>/<name>.md with characters that
// are reserved in file names removed.
func (v *VaultSink) filePath(title string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/:*?'"<>.|`, r) {
			return -1
		}
		return r
	}, title)
	if runes := []rune(name); len(runes) > maxFileNameRunes {
		name = string(runes[:maxFileNameRunes])
	}
	return filepath.Join(v.settings.VaultDir, filepath.FromSlash(v.settings.folder()), name+".md")
}

// findByNoteID returns the vault files whose frontmatter id matches, in
// path order.
func (v *VaultSink) findByNoteID(noteID string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(v.settings.VaultDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != v.settings.VaultDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		meta, err := readFrontmatter(path)
		if err != nil {
			return nil
		}
		if id, ok := meta[frontmatterIDKey]; ok && id != nil && fmt.Sprint(id) == noteID {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// readFrontmatter parses the leading --- delimited YAML block of a markdown
// file. Files without one yield nil.
func readFrontmatter(path string) (map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "---" {
		return nil, scanner.Err()
	}
	var block bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			var meta map[string]any
			if err := yaml.Unmarshal(block.Bytes(), &meta); err != nil {
				return nil, err
			}
			return meta, nil
		}
		block.WriteString(line)
		block.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("unterminated frontmatter")
}

// createExclusive fails when path already exists.
func createExclusive(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(content); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}
	return file.Close()
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
