package compiler

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Language describes how to build one source language. CompileCmd is a template where
// {src}, {exe} and {dir} are replaced before the command is split into arguments.
type Language struct {
	Name         string        `json:"name"`
	Extension    string        `json:"extension"`
	CompileCmd   string        `json:"compile"`
	BuildTimeout time.Duration `json:"build_timeout_ms"`
}

// Table maps a language tag to its toolchain.
type Table map[string]Language

func DefaultTable() Table {
	cpp := Language{Name: "G++", Extension: ".cpp", CompileCmd: "g++ -O2 -o {exe} {src}"}
	c := Language{Name: "GCC", Extension: ".c", CompileCmd: "gcc -O2 -o {exe} {src}"}
	return Table{
		"cpp": cpp,
		"G++": cpp,
		"c":   c,
		"GCC": c,
	}
}

// LoadTable reads a JSON language table. Timeouts in the file are in milliseconds.
func LoadTable(path string) (Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	table := make(Table)
	if err := json.NewDecoder(file).Decode(&table); err != nil {
		return nil, errors.Wrap(err, "failed to decode language table")
	}
	for tag, lang := range table {
		if strings.TrimSpace(lang.CompileCmd) == "" {
			return nil, errors.Errorf("language %q: compile command is required", tag)
		}
		if lang.Extension != "" && !strings.HasPrefix(lang.Extension, ".") {
			lang.Extension = "." + lang.Extension
		}
		if lang.Name == "" {
			lang.Name = tag
		}
		lang.BuildTimeout *= time.Millisecond
		table[tag] = lang
	}
	return table, nil
}

// Lookup returns the language registered for tag.
func (t Table) Lookup(tag string) (Language, bool) {
	lang, ok := t[tag]
	return lang, ok
}
