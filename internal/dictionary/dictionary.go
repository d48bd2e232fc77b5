// Package dictionary looks up English words in a dictionaryapi.dev compatible service
// and caches the results in the shared state store.
package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/learnhub/learnhub/internal/session"
	"github.com/learnhub/learnhub/internal/validate"
)

// DefaultBaseURL is the public dictionary endpoint.
const DefaultBaseURL = "https://api.dictionaryapi.dev/api/v2/entries/en"

const cacheTTL = 24 * time.Hour

// ErrNotFound is returned when the service has no entry for a word.
var ErrNotFound = errors.New("word not found")

// Entry is the trimmed-down result returned to clients.
type Entry struct {
	Word     string    `json:"word"`
	Phonetic string    `json:"phonetic,omitempty"`
	Audio    string    `json:"audio,omitempty"`
	Meanings []Meaning `json:"meanings"`
}

// Meaning groups definitions by part of speech.
type Meaning struct {
	PartOfSpeech string       `json:"part_of_speech"`
	Definitions  []Definition `json:"definitions"`
	Synonyms     []string     `json:"synonyms,omitempty"`
}

// Definition is one sense of a word.
type Definition struct {
	Definition string `json:"definition"`
	Example    string `json:"example,omitempty"`
}

// upstream response shape
type apiEntry struct {
	Word      string `json:"word"`
	Phonetic  string `json:"phonetic"`
	Phonetics []struct {
		Text  string `json:"text"`
		Audio string `json:"audio"`
	} `json:"phonetics"`
	Meanings []struct {
		PartOfSpeech string `json:"partOfSpeech"`
		Definitions  []struct {
			Definition string `json:"definition"`
			Example    string `json:"example"`
		} `json:"definitions"`
		Synonyms []string `json:"synonyms"`
	} `json:"meanings"`
}

// Client queries the dictionary service.
type Client struct {
	baseURL string
	http    *http.Client
	cache   session.StateStore
}

// New creates a Client. A nil cache disables caching.
func New(baseURL string, cache session.StateStore) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   cache,
	}
}

// Lookup returns the entry for word. Multiple upstream entries are merged.
func (c *Client) Lookup(ctx context.Context, word string) (*Entry, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if err := validate.Var("word", word, "required,max=64,excludesall=/?#"); err != nil {
		return nil, err
	}

	key := "dict:" + word
	if c.cache != nil {
		if raw, ok, err := c.cache.LoadState(ctx, key); err != nil {
			slog.Warn("dictionary cache read failed", "word", word, "error", err)
		} else if ok {
			var e Entry
			if err := json.Unmarshal(raw, &e); err == nil {
				return &e, nil
			}
		}
	}

	e, err := c.fetch(ctx, word)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if raw, err := json.Marshal(e); err == nil {
			if err := c.cache.SaveState(ctx, key, raw, cacheTTL); err != nil {
				slog.Warn("dictionary cache write failed", "word", word, "error", err)
			}
		}
	}
	return e, nil
}

func (c *Client) fetch(ctx context.Context, word string) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(word), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dictionary request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("dictionary service returned %s", resp.Status)
	}

	var entries []apiEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode dictionary response: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return merge(entries), nil
}

func merge(entries []apiEntry) *Entry {
	e := &Entry{Word: entries[0].Word, Phonetic: entries[0].Phonetic}
	for _, ae := range entries {
		for _, p := range ae.Phonetics {
			if e.Phonetic == "" && p.Text != "" {
				e.Phonetic = p.Text
			}
			if e.Audio == "" && p.Audio != "" {
				e.Audio = p.Audio
			}
		}
		for _, m := range ae.Meanings {
			meaning := Meaning{PartOfSpeech: m.PartOfSpeech, Synonyms: m.Synonyms}
			for _, d := range m.Definitions {
				meaning.Definitions = append(meaning.Definitions, Definition{Definition: d.Definition, Example: d.Example})
			}
			e.Meanings = append(e.Meanings, meaning)
		}
	}
	return e
}
