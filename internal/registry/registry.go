// Package registry loads and validates the list of tracked sources.
//
// The list is read once per run. A malformed list is fatal: a registry that
// is only partially valid cannot be trusted.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"tubewatch/internal/feed"
)

// ConfigError reports a malformed source list.
type ConfigError struct {
	Path string // file path, or "config" for inline sources
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("source list")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Entry is one record as written in a source list. ChannelID is the legacy
// spelling of SourceID used by channels.json files.
type Entry struct {
	Name      string `json:"name" yaml:"name"`
	SourceID  string `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
	Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"`
}

type fileFormat struct {
	Channels []Entry `json:"channels" yaml:"channels"`
	Sources  []Entry `json:"sources" yaml:"sources"`
}

// Load reads the list at path and validates it. An empty path yields no sources.
func Load(path string) ([]feed.Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Msg: "read failed", Err: err}
	}
	return Parse(path, b)
}

// Parse decodes a source list. YAML is selected by the .yaml/.yml extension
// of name; anything else is JSON. Unknown fields are rejected.
func Parse(name string, data []byte) ([]feed.Source, error) {
	var ff fileFormat
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".yaml" || ext == ".yml" {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&ff); err != nil && err != io.EOF {
			return nil, &ConfigError{Path: name, Msg: "decode yaml", Err: err}
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ff); err != nil {
			return nil, &ConfigError{Path: name, Msg: "decode json", Err: err}
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return nil, &ConfigError{Path: name, Msg: "trailing data after source list"}
		}
	}

	entries := make([]Entry, 0, len(ff.Channels)+len(ff.Sources))
	entries = append(entries, ff.Channels...)
	entries = append(entries, ff.Sources...)
	return FromEntries(name, entries)
}

// FromEntries converts raw entries into sources and validates the result.
func FromEntries(origin string, entries []Entry) ([]feed.Source, error) {
	out := make([]feed.Source, 0, len(entries))
	for i, e := range entries {
		src, err := e.source()
		if err != nil {
			return nil, &ConfigError{Path: origin, Msg: fmt.Sprintf("entry %d", i), Err: err}
		}
		out = append(out, src)
	}
	if err := Validate(out); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.Path == "" {
			ce.Path = origin
		}
		return nil, err
	}
	return out, nil
}

func (e Entry) source() (feed.Source, error) {
	id := strings.TrimSpace(e.SourceID)
	legacy := strings.TrimSpace(e.ChannelID)
	switch {
	case id == "":
		id = legacy
	case legacy != "" && legacy != id:
		return feed.Source{}, fmt.Errorf("source_id %q and channel_id %q disagree", id, legacy)
	}
	kind, ok := feed.ParseKind(e.Kind)
	if !ok {
		return feed.Source{}, fmt.Errorf("unknown kind %q", e.Kind)
	}
	return feed.Source{Name: strings.TrimSpace(e.Name), ID: id, Kind: kind}, nil
}

// Validate checks identifiers, names, kinds and uniqueness of source IDs.
func Validate(sources []feed.Source) error {
	seen := make(map[string]int, len(sources))
	for i, s := range sources {
		if s.ID == "" {
			return &ConfigError{Msg: fmt.Sprintf("entry %d (%q): missing source_id", i, s.Name)}
		}
		if s.Name == "" {
			return &ConfigError{Msg: fmt.Sprintf("entry %d (%s): empty name", i, s.ID)}
		}
		if _, ok := feed.ParseKind(string(s.Kind)); !ok {
			return &ConfigError{Msg: fmt.Sprintf("entry %d (%s): unknown kind %q", i, s.ID, s.Kind)}
		}
		if s.Kind == feed.KindGitHub {
			owner, repo, ok := strings.Cut(s.ID, "/")
			if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
				return &ConfigError{Msg: fmt.Sprintf("entry %d (%s): github source_id must be owner/repo", i, s.ID)}
			}
		}
		if s.Kind == feed.KindSlack && strings.ContainsAny(s.ID, " /#") {
			return &ConfigError{Msg: fmt.Sprintf("entry %d (%s): slack source_id must be a channel ID such as C0123ABCD", i, s.ID)}
		}
		if j, dup := seen[s.ID]; dup {
			return &ConfigError{Msg: fmt.Sprintf("duplicate source_id %q (entries %d and %d)", s.ID, j, i)}
		}
		seen[s.ID] = i
	}
	return nil
}

// Merge concatenates file-backed and inline sources and revalidates the
// combined list, so duplicates across the two are caught.
func Merge(fromFile []feed.Source, inline []Entry) ([]feed.Source, error) {
	extra, err := FromEntries("config", inline)
	if err != nil {
		return nil, err
	}
	all := make([]feed.Source, 0, len(fromFile)+len(extra))
	all = append(all, fromFile...)
	all = append(all, extra...)
	if err := Validate(all); err != nil {
		return nil, err
	}
	return all, nil
}
