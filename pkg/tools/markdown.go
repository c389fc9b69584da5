package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// ParseMarkdownResume is the built-in ResumeParser. It understands the
// common résumé layout: a top-level "# Name" heading, "## Section"
// headings, "### Entry" sub-headings inside list sections, "key: value"
// lines, and "- bullet" lines (collected under "highlights").
func ParseMarkdownResume(ctx context.Context, path string) (map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc := map[string]interface{}{}
	basic := map[string]interface{}{}

	var section string       // normalized "## ..." name
	var entries []interface{} // accumulated entries for the current section
	var entry map[string]interface{}
	var freeText []string // prose lines in sections with no entries

	flushEntry := func() {
		if entry != nil {
			entries = append(entries, entry)
			entry = nil
		}
	}
	flushSection := func() {
		flushEntry()
		if section == "" {
			return
		}
		switch {
		case len(entries) > 0:
			doc[section] = entries
		case len(freeText) > 0:
			doc[section] = strings.Join(freeText, "\n")
		}
		entries = nil
		freeText = nil
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimRight(scanner.Text(), " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "### "):
			flushEntry()
			entry = map[string]interface{}{
				"name": strings.TrimSpace(strings.TrimPrefix(trimmed, "### ")),
			}
		case strings.HasPrefix(trimmed, "## "):
			flushSection()
			section = normalizeSection(strings.TrimPrefix(trimmed, "## "))
		case strings.HasPrefix(trimmed, "# "):
			basic["name"] = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		case strings.HasPrefix(trimmed, "- "):
			bullet := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
			if entry == nil {
				entry = map[string]interface{}{}
			}
			highlights, _ := entry["highlights"].([]interface{})
			entry["highlights"] = append(highlights, bullet)
		case trimmed == "":
			// blank lines separate blocks but carry no data
		default:
			if key, value, ok := splitKeyValue(trimmed); ok {
				if section == "" {
					basic[key] = value
				} else {
					if entry == nil {
						entry = map[string]interface{}{}
					}
					entry[key] = value
				}
				continue
			}
			if section == "" {
				continue
			}
			freeText = append(freeText, trimmed)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	flushSection()

	if len(basic) > 0 {
		doc["basic"] = basic
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("no resume content found in %s", path)
	}
	return doc, nil
}

func normalizeSection(heading string) string {
	s := strings.ToLower(strings.TrimSpace(heading))
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "work_experience", "employment", "work":
		return "experience"
	case "personal_projects":
		return "projects"
	}
	return s
}

func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(line[:idx]))
	if strings.ContainsAny(key, " .") || len(key) > 24 {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}
