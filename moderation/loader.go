package moderation

import (
	"bufio"
	"bytes"
	"io/fs"
	"path"
	"slices"
	"strings"

	"roomsync/errors"
)

// Wordlist is the content of a censored words directory.
type Wordlist struct {
	Words     []string
	Languages []string
}

// LoadWords reads every "<lang>.txt" file of dir, one word per line, and
// merges them into a sorted list without duplicates.
// Subdirectories are refused, other files ignored.
func LoadWords(fsys fs.FS, dir string) (Wordlist, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return Wordlist{}, err
	}

	var list Wordlist
	unique := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			return Wordlist{}, errors.ErrOnlyCensoredTxt
		}
		lang, ok := strings.CutSuffix(entry.Name(), ".txt")
		if !ok {
			continue
		}
		list.Languages = append(list.Languages, lang)

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return Wordlist{}, err
		}
		// Scanner copes with both \n and \r\n
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if word := strings.TrimSpace(scanner.Text()); word != "" {
				unique[word] = struct{}{}
			}
		}
		if err = scanner.Err(); err != nil {
			return Wordlist{}, err
		}
	}
	if len(unique) == 0 {
		return Wordlist{}, errors.ErrEmptyWords
	}

	for w := range unique {
		list.Words = append(list.Words, w)
	}
	slices.Sort(list.Words)
	return list, nil
}
