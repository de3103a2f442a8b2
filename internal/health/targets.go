package health

import (
	"net/url"
	"strings"
)

// DefaultLabel is used when no label can be derived for a target.
const DefaultLabel = "edge-api"

// ParseTargets turns a "label|url,url,..." list into targets. When the list
// yields nothing, fallbackURL (if set) becomes the single target. The result
// is empty only when neither input carries a URL.
func ParseTargets(rawList, fallbackURL, fallbackLabel string) []Target {
	if fallbackLabel == "" {
		fallbackLabel = DefaultLabel
	}

	targets := make([]Target, 0)
	for _, entry := range strings.Split(rawList, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		label, apiURL, found := strings.Cut(entry, "|")
		if !found {
			label, apiURL = "", entry
		}
		label = strings.TrimSpace(label)
		apiURL = strings.TrimSpace(apiURL)
		if apiURL == "" {
			continue
		}
		if label == "" {
			label = hostLabel(apiURL, fallbackLabel)
		}

		targets = append(targets, Target{Label: label, APIURL: apiURL})
	}

	if len(targets) == 0 && strings.TrimSpace(fallbackURL) != "" {
		targets = append(targets, Target{Label: fallbackLabel, APIURL: strings.TrimSpace(fallbackURL)})
	}

	return targets
}

// hostLabel derives a display label from the URL host.
func hostLabel(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return fallback
	}
	return parsed.Host
}

// JoinURL appends path to base, dropping trailing slashes from base.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
