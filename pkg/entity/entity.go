// Package entity models the records served by the STINE portal and the
// completeness levels they can be loaded at.
package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a class of portal records.
type Kind string

const (
	KindModule             Kind = "module"
	KindSubmodule          Kind = "submodule"
	KindExamResult         Kind = "exam_result"
	KindDocument           Kind = "document"
	KindRegistrationPeriod Kind = "registration_period"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{KindModule, KindSubmodule, KindExamResult, KindDocument, KindRegistrationPeriod}

var (
	ErrUnknownKind     = errors.New("unknown entity kind")
	ErrUnknownLanguage = errors.New("unknown language")
	ErrInvalidKey      = errors.New("invalid entity key")
)

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	switch s {
	case "modules":
		s = string(KindModule)
	case "submodules":
		s = string(KindSubmodule)
	case "results", "exam_results", "exams":
		s = string(KindExamResult)
	case "documents", "docs":
		s = string(KindDocument)
	case "periods", "registration_periods":
		s = string(KindRegistrationPeriod)
	}
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Language selects the localized field set the portal serves.
type Language string

const (
	German  Language = "de"
	English Language = "en"
)

func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "de", "german", "deutsch":
		return German, nil
	case "en", "english", "englisch":
		return English, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
}

// Key identifies a cached record. The language is part of the key because
// the portal serves different text per language.
type Key struct {
	Kind     Kind     `json:"kind" yaml:"kind"`
	ID       string   `json:"id" yaml:"id"`
	Language Language `json:"language" yaml:"language"`
}

func NewKey(kind Kind, id string, lang Language) Key {
	return Key{Kind: kind, ID: strings.TrimSpace(id), Language: lang}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.Language, k.ID)
}

// Identity returns the key used to match records across snapshots. Section
// suffixes of modules and submodules are dropped; see IdentityID.
func (k Key) Identity() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.Language, IdentityID(k.Kind, k.ID))
}

func (k Key) Validate() error {
	if k.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidKey)
	}
	if _, err := ParseKind(string(k.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if k.Language != German && k.Language != English {
		return fmt.Errorf("%w: language %q", ErrInvalidKey, k.Language)
	}
	return nil
}
