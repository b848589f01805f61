package gameconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
)

// ServerConfiguration is the file the game server reads on startup. Field
// order and JSON keys match what the server binary expects.
type ServerConfiguration struct {
	Name          string `json:"name"`
	Password      string `json:"password"`
	SaveDirectory string `json:"saveDirectory"`
	LogDirectory  string `json:"logDirectory"`
	IP            string `json:"ip"`
	GamePort      uint16 `json:"gamePort"`
	QueryPort     uint16 `json:"queryPort"`
	SlotCount     uint32 `json:"slotCount"`
}

// DefaultConfiguration returns the template written on first boot.
func DefaultConfiguration() ServerConfiguration {
	return ServerConfiguration{
		Name:          "Enshrouded Server",
		SaveDirectory: "./savegame",
		LogDirectory:  "./logs",
		IP:            "0.0.0.0",
		GamePort:      15636,
		QueryPort:     15637,
		SlotCount:     16,
	}
}

// Overrides are operator supplied values. Empty fields are ignored.
type Overrides struct {
	Name      string
	Password  string
	GamePort  string
	QueryPort string
	SlotCount string
	// BindAddress only seeds newly created files.
	BindAddress string
}

// Options control a single EnsureConfig call.
type Options struct {
	ForceRewrite bool
	// RunAsUser receives ownership of written files, best-effort.
	RunAsUser string
}

// Result reports what EnsureConfig changed.
type Result struct {
	Created bool
	Updated []string
	Skipped []string
}

// Changed reports whether the file on disk was written.
func (r Result) Changed() bool {
	return r.Created || len(r.Updated) > 0
}

// overrideKeys is the whitelist applied on every boot, in file order.
var overrideKeys = []string{"name", "password", "gamePort", "queryPort", "slotCount"}

// Materializer creates and patches the game configuration file.
type Materializer struct {
	Template ServerConfiguration
	Logger   *slog.Logger

	lookupUser func(name string) (*user.User, error)
	chown      func(path string, uid, gid int) error
}

// NewMaterializer creates a materializer seeded with the default template.
func NewMaterializer(logger *slog.Logger) *Materializer {
	return &Materializer{
		Template:   DefaultConfiguration(),
		Logger:     logger,
		lookupUser: user.Lookup,
		chown:      os.Chown,
	}
}

// EnsureConfig keeps an existing file unless ForceRewrite is set, otherwise it
// writes the template. Whitelisted overrides are then patched in; the file is
// only rewritten when a value actually changed.
func (m *Materializer) EnsureConfig(path string, overrides Overrides, opts Options) (Result, error) {
	logger := m.logger()
	var result Result

	existing, err := os.ReadFile(path)
	switch {
	case err == nil && !opts.ForceRewrite:
	case err == nil || os.IsNotExist(err):
		if opts.ForceRewrite && err == nil {
			logger.Warn("Rewriting game configuration from template", "path", path)
		}
		existing, err = m.render(overrides)
		if err != nil {
			return result, err
		}
		if err := writeAtomic(path, existing); err != nil {
			return result, err
		}
		result.Created = true
		logger.Info("Created game configuration", "path", path)
	default:
		return result, fmt.Errorf("failed to read game configuration: %w", err)
	}

	doc, err := parseDocument(existing)
	if err != nil {
		return result, fmt.Errorf("%s: %w", path, err)
	}

	values, skipped := encodeOverrides(overrides)
	result.Skipped = skipped
	for _, key := range skipped {
		logger.Warn("Ignoring invalid override", "field", key)
	}

	var changed []string
	for _, key := range overrideKeys {
		value, ok := values[key]
		if !ok {
			continue
		}
		if current, found := doc.raw(key); found && bytes.Equal(current, value) {
			continue
		}
		changed = append(changed, key)
	}

	if len(changed) > 0 {
		if err := writeAtomic(path, doc.apply(changed, values)); err != nil {
			return result, err
		}
		result.Updated = changed
		logger.Info("Applied configuration overrides", "path", path, "fields", strings.Join(changed, ","))
	}

	if result.Changed() {
		m.fixOwnership(path, opts.RunAsUser)
	}
	return result, nil
}

// CopyIfMissing copies src to dst when dst does not exist yet.
func (m *Materializer) CopyIfMissing(src, dst, runAsUser string) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat %s: %w", dst, err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := writeAtomic(dst, data); err != nil {
		return false, err
	}
	m.fixOwnership(dst, runAsUser)
	m.logger().Info("Copied game configuration into install directory", "path", dst)
	return true, nil
}

func (m *Materializer) render(overrides Overrides) ([]byte, error) {
	cfg := m.Template
	if overrides.BindAddress != "" {
		cfg.IP = overrides.BindAddress
	}
	if name := sanitizeText(overrides.Name); name != "" {
		cfg.Name = name
	}
	cfg.Password = sanitizeText(overrides.Password)
	if port, err := strconv.ParseUint(strings.TrimSpace(overrides.GamePort), 10, 16); err == nil {
		cfg.GamePort = uint16(port)
	}
	if port, err := strconv.ParseUint(strings.TrimSpace(overrides.QueryPort), 10, 16); err == nil {
		cfg.QueryPort = uint16(port)
	}
	if slots, err := strconv.ParseUint(strings.TrimSpace(overrides.SlotCount), 10, 32); err == nil {
		cfg.SlotCount = uint32(slots)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode game configuration: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeOverrides renders every non-empty override as JSON. Numeric values
// that do not fit their field are skipped.
func encodeOverrides(o Overrides) (map[string][]byte, []string) {
	values := map[string][]byte{}
	var skipped []string

	text := func(key, value string) {
		if value == "" {
			return
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(sanitizeText(value))
		values[key] = bytes.TrimRight(buf.Bytes(), "\n")
	}
	number := func(key, value string, bits int) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		n, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			skipped = append(skipped, key)
			return
		}
		values[key] = []byte(strconv.FormatUint(n, 10))
	}

	text("name", o.Name)
	text("password", o.Password)
	number("gamePort", o.GamePort, 16)
	number("queryPort", o.QueryPort, 16)
	number("slotCount", o.SlotCount, 32)
	return values, skipped
}

// sanitizeText replaces line breaks so free text cannot break the file layout.
func sanitizeText(value string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(value)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func (m *Materializer) fixOwnership(path, runAsUser string) {
	if runAsUser == "" || m.lookupUser == nil || m.chown == nil {
		return
	}
	u, err := m.lookupUser(runAsUser)
	if err != nil {
		m.logger().Warn("Run-as user not found, leaving ownership unchanged", "user", runAsUser, "error", err)
		return
	}
	uid, uidErr := strconv.Atoi(u.Uid)
	gid, gidErr := strconv.Atoi(u.Gid)
	if uidErr != nil || gidErr != nil {
		return
	}
	if err := m.chown(path, uid, gid); err != nil {
		m.logger().Warn("Failed to change configuration ownership", "path", path, "user", runAsUser, "error", err)
	}
}

func (m *Materializer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
