package datasets

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// NamedFiles is one view candidate: a config/split pair or a whole config.
type NamedFiles struct {
	Name  string
	Files []ParquetFile
}

// GroupFiles groups files by config/split and by config, sorted by name.
func GroupFiles(files []ParquetFile) []NamedFiles {
	var groups []NamedFiles
	splitIndex := map[string]int{}
	configIndex := map[string]int{}
	var configs []NamedFiles

	for _, file := range files {
		splitName := file.Config + "/" + file.Split
		if i, ok := splitIndex[splitName]; ok {
			groups[i].Files = append(groups[i].Files, file)
		} else {
			splitIndex[splitName] = len(groups)
			groups = append(groups, NamedFiles{Name: splitName, Files: []ParquetFile{file}})
		}

		if i, ok := configIndex[file.Config]; ok {
			configs[i].Files = append(configs[i].Files, file)
		} else {
			configIndex[file.Config] = len(configs)
			configs = append(configs, NamedFiles{Name: file.Config, Files: []ParquetFile{file}})
		}
	}
	groups = append(groups, configs...)

	sort.SliceStable(groups, func(i, j int) bool {
		left, right := strings.ToLower(groups[i].Name), strings.ToLower(groups[j].Name)
		if left != right {
			return left < right
		}
		return groups[i].Name < groups[j].Name
	})
	return groups
}

// ViewSources maps each group name to its file URLs.
func ViewSources(groups []NamedFiles) map[string][]string {
	views := make(map[string][]string, len(groups))
	for _, group := range groups {
		urls := make([]string, 0, len(group.Files))
		for _, file := range group.Files {
			urls = append(urls, file.URL)
		}
		views[group.Name] = urls
	}
	return views
}

// DatasetFromURL extracts "owner/name" from a Hugging Face dataset page URL
// such as https://huggingface.co/datasets/ibm/duorc/viewer.
func DatasetFromURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse dataset url: %w", err)
	}
	if parsed.Host != "huggingface.co" {
		return "", fmt.Errorf("not a Hugging Face dataset url: %q", raw)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "datasets" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("not a Hugging Face dataset url: %q", raw)
	}
	return parts[1] + "/" + parts[2], nil
}
