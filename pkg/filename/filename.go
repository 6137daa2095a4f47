// Package filename implements the naming grammar for artifacts kept in a
// source directory.
//
// An artifact name has the form <index>-<alias>-<kind>.gpg, for example
// "1-quintuple_cant-msg.gpg". The only other accepted name is the _FLAG
// sentinel, which marks a source directory as pending deletion.
package filename

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Extension is the single extension allowed for encrypted content.
const Extension = ".gpg"

// FlagSentinel marks a source directory as pending deletion.
const FlagSentinel = "_FLAG"

// Kind is the type of content an artifact holds.
type Kind string

const (
	KindMessage     Kind = "msg"
	KindDocumentGz  Kind = "doc.gz"
	KindDocumentZip Kind = "doc.zip"
	KindReply       Kind = "reply"
)

// Class separates sentinel files from regular artifacts.
type Class int

const (
	ClassArtifact Class = iota
	ClassFlag
)

func (c Class) String() string {
	switch c {
	case ClassFlag:
		return "flag"
	default:
		return "artifact"
	}
}

// sentinels is the set of names exempt from the grammar.
var sentinels = map[string]struct{}{
	FlagSentinel: {},
}

// The alias group keeps the trailing hyphen, so "1-msg.gpg" and
// "1-quintuple_cant-msg.gpg" both match.
var (
	artifactPattern = regexp.MustCompile(`^(?P<index>\d+)-(?P<alias>[a-z0-9_-]*)(?P<kind>msg|doc\.gz|doc\.zip|reply)\.gpg$`)
	aliasPattern    = regexp.MustCompile(`^[a-z0-9_-]*$`)
)

// Name is a classified artifact filename. Index is the digit run exactly as
// it appears on disk, leading zeros included.
type Name struct {
	Class     Class
	Index     string
	Alias     string
	Kind      Kind
	Extension string

	raw string
}

// String renders the name back to its on-disk form.
func (n Name) String() string {
	switch {
	case n.Class == ClassFlag:
		return FlagSentinel
	case n.raw != "":
		return n.raw
	default:
		return Compose(n.Index, n.Alias, n.Kind)
	}
}

// IsSentinel reports whether name is exempt from the naming grammar.
func IsSentinel(name string) bool {
	_, ok := sentinels[name]
	return ok
}

// Classify parses name against the naming grammar.
func Classify(name string) (Name, error) {
	if IsSentinel(name) {
		return Name{Class: ClassFlag}, nil
	}
	if name == "" {
		return Name{}, &Error{Filename: name, Reason: "Invalid filename "}
	}

	ext := filepath.Ext(name)
	if ext != Extension {
		return Name{}, &Error{Filename: name, Reason: fmt.Sprintf("Invalid file extension %s", ext)}
	}

	m := artifactPattern.FindStringSubmatch(name)
	if m == nil {
		return Name{}, &Error{Filename: name, Reason: fmt.Sprintf("Invalid filename %s", name)}
	}

	return Name{
		Class:     ClassArtifact,
		Index:     m[artifactPattern.SubexpIndex("index")],
		Alias:     strings.TrimSuffix(m[artifactPattern.SubexpIndex("alias")], "-"),
		Kind:      Kind(m[artifactPattern.SubexpIndex("kind")]),
		Extension: Extension,
		raw:       name,
	}, nil
}

// Compose builds an artifact filename from an index digit run. An empty
// alias yields <index>-<kind>.gpg.
func Compose(index, alias string, kind Kind) string {
	if alias == "" {
		return index + "-" + string(kind) + Extension
	}
	return index + "-" + alias + "-" + string(kind) + Extension
}

// Rename swaps the alias segment of an artifact filename, keeping the index
// text and kind untouched. Sentinels and names outside the grammar cannot be renamed.
func Rename(name, alias string) (string, error) {
	parsed, err := Classify(name)
	if err != nil {
		return "", err
	}
	if parsed.Class != ClassArtifact {
		return "", &Error{Filename: name, Reason: fmt.Sprintf("Cannot rename sentinel %s", name)}
	}
	if !aliasPattern.MatchString(alias) {
		return "", &Error{Filename: name, Reason: fmt.Sprintf("Invalid alias %q", alias)}
	}
	return Compose(parsed.Index, alias, parsed.Kind), nil
}
