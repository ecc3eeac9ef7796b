// Package storage tracks where a finished artifact lives: a session
// directory on local disk, or an object in a remote S3-compatible bucket.
package storage

import (
	"errors"
	"path"
	"path/filepath"
)

// Kind tells which tier currently holds an artifact.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

var (
	ErrInvalidDescriptor = errors.New("invalid storage descriptor")
	ErrNoArtifact        = errors.New("no artifact file in session directory")
	ErrOutsideRoot       = errors.New("path escapes artifact root")
)

// Descriptor is the current location of a session's artifact.
// Local descriptors carry the session directory in Path; remote ones carry
// the object key in Key. Filename is the user-facing file name in both.
type Descriptor struct {
	Kind     Kind   `json:"kind"`
	Path     string `json:"path,omitempty"`
	Key      string `json:"key,omitempty"`
	Filename string `json:"filename"`
}

func LocalDescriptor(dir, filename string) Descriptor {
	return Descriptor{Kind: KindLocal, Path: dir, Filename: filename}
}

func RemoteDescriptor(key, filename string) Descriptor {
	return Descriptor{Kind: KindRemote, Key: key, Filename: filename}
}

func (d Descriptor) IsLocal() bool  { return d.Kind == KindLocal }
func (d Descriptor) IsRemote() bool { return d.Kind == KindRemote }

// FilePath is the absolute location of a local artifact file.
func (d Descriptor) FilePath() string {
	if !d.IsLocal() || d.Path == "" || d.Filename == "" {
		return ""
	}
	return filepath.Join(d.Path, d.Filename)
}

// StorageKey is what the URL index records: the object key for remote
// artifacts and the session directory for local ones.
func (d Descriptor) StorageKey() string {
	if d.IsRemote() {
		return d.Key
	}
	return d.Path
}

func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindLocal:
		if d.Path == "" {
			return ErrInvalidDescriptor
		}
	case KindRemote:
		if d.Key == "" {
			return ErrInvalidDescriptor
		}
	default:
		return ErrInvalidDescriptor
	}
	return nil
}

// ObjectKey builds the remote key for a session's artifact.
func ObjectKey(sessionID, filename string) string {
	return path.Join(sessionID, path.Base(filepath.ToSlash(filename)))
}
