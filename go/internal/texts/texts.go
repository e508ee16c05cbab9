// Package texts holds the passages players race on.
package texts

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed passages.yaml
var defaultPassages []byte

var ErrEmptyCorpus = errors.New("passage corpus is empty")

type Corpus struct {
	passages []string
}

func Default() *Corpus {
	c, err := Parse(defaultPassages)
	if err != nil {
		panic(fmt.Sprintf("embedded passages: %v", err))
	}
	return c
}

// Load reads a passage file. A missing file yields the built-in corpus.
func Load(path string) (*Corpus, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("passage file not found, using built-in passages")
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read passages: %w", err)
	}
	return Parse(data)
}

// Parse trims every passage and drops blank ones.
func Parse(data []byte) (*Corpus, error) {
	var f struct {
		Passages []string `yaml:"passages"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse passages: %w", err)
	}

	c := &Corpus{}
	for _, p := range f.Passages {
		if p = strings.TrimSpace(p); p != "" {
			c.passages = append(c.passages, p)
		}
	}
	if len(c.passages) == 0 {
		return nil, ErrEmptyCorpus
	}
	return c, nil
}

func (c *Corpus) Len() int { return len(c.passages) }

// Random picks a passage uniformly.
func (c *Corpus) Random(rng *rand.Rand) string {
	return c.passages[rng.Intn(len(c.passages))]
}
