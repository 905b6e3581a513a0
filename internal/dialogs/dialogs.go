package dialogs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileExt is the extension of dialog files.
const fileExt = ".dialog"

// defaultDebounce groups bursts of file events into one reload.
const defaultDebounce = 500 * time.Millisecond

// Logger defines the logging interface used by Dialogs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dialogs holds the loaded sentences, by language then key.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Dialogs struct {
	folder   string
	logger   Logger
	debounce time.Duration

	mu        sync.RWMutex
	sentences map[string]map[string][]string
}

// New creates an empty set for folder. Call Load to read it.
func New(folder string) *Dialogs {
	return &Dialogs{
		folder:    folder,
		logger:    noopLogger{},
		debounce:  defaultDebounce,
		sentences: map[string]map[string][]string{},
	}
}

// SetLogger sets the logger.
func (d *Dialogs) SetLogger(logger Logger) {
	d.logger = logger
}

// Load reads every dialog file below the folder and replaces the loaded
// set. Duplicate and blank lines are dropped.
func (d *Dialogs) Load() error {
	langs, err := os.ReadDir(d.folder)
	if err != nil {
		return fmt.Errorf("reading dialog folder: %w", err)
	}

	loaded := make(map[string]map[string][]string)
	for _, lang := range langs {
		if !lang.IsDir() {
			continue
		}
		keys := map[string][]string{}
		langPath := filepath.Join(d.folder, lang.Name())

		files, err := os.ReadDir(langPath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", langPath, err)
		}
		for _, f := range files {
			if !f.Type().IsRegular() || filepath.Ext(f.Name()) != fileExt {
				continue
			}
			lines, err := readSentences(filepath.Join(langPath, f.Name()))
			if err != nil {
				return err
			}
			keys[strings.TrimSuffix(f.Name(), fileExt)] = lines
		}
		loaded[lang.Name()] = keys
	}

	d.mu.Lock()
	d.sentences = loaded
	d.mu.Unlock()

	d.logger.Info("dialogs loaded", "folder", d.folder, "languages", len(loaded))
	return nil
}

func readSentences(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || slices.Contains(lines, line) {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}

// Languages returns the loaded languages, sorted.
func (d *Dialogs) Languages() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	langs := make([]string, 0, len(d.sentences))
	for l := range d.sentences {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	return langs
}

// Sentences returns a copy of the sentences of key in language.
func (d *Dialogs) Sentences(language, key string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.sentences[language][key])
}

// Get returns one random sentence of key in language.
//
// When data is not nil the sentence is executed as a text/template with
// data as its dot.
//
// Returns:
//   - string: The rendered sentence
//   - error: ErrUnknownLanguage, ErrUnknownKey, ErrEmptyDialog or ErrRender
func (d *Dialogs) Get(language, key string, data any) (string, error) {
	d.mu.RLock()
	keys, ok := d.sentences[language]
	if !ok {
		d.mu.RUnlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownLanguage, language)
	}
	sentences, ok := keys[key]
	if !ok {
		d.mu.RUnlock()
		return "", fmt.Errorf("%w: %s for language %s", ErrUnknownKey, key, language)
	}
	if len(sentences) == 0 {
		d.mu.RUnlock()
		return "", fmt.Errorf("%w: %s for language %s", ErrEmptyDialog, key, language)
	}
	sentence := sentences[rand.IntN(len(sentences))]
	d.mu.RUnlock()

	if data == nil {
		return sentence, nil
	}
	return render(sentence, data)
}

func render(sentence string, data any) (string, error) {
	tmpl, err := template.New("dialog").Option("missingkey=zero").Parse(sentence)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return b.String(), nil
}

// Watch reloads the dialogs whenever files below the folder change, until
// ctx is done. Language folders created later are watched too.
func (d *Dialogs) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := d.addDirs(watcher); err != nil {
		return err
	}

	reload := time.NewTimer(d.debounce)
	reload.Stop()
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						d.logger.Warn("cannot watch dialog folder", "path", event.Name, "error", err)
					}
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				d.logger.Debug("dialog change detected", "file", event.Name)
				reload.Reset(d.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("dialog watcher error", "error", err)

		case <-reload.C:
			if err := d.Load(); err != nil {
				d.logger.Error("failed to reload dialogs", "error", err)
			}
		}
	}
}

// addDirs watches the folder and each language folder in it.
func (d *Dialogs) addDirs(watcher *fsnotify.Watcher) error {
	if err := watcher.Add(d.folder); err != nil {
		return fmt.Errorf("failed to watch dialog folder %s: %w", d.folder, err)
	}
	entries, err := os.ReadDir(d.folder)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading dialog folder: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := watcher.Add(filepath.Join(d.folder, e.Name())); err != nil {
			return fmt.Errorf("failed to watch %s: %w", e.Name(), err)
		}
	}
	return nil
}
