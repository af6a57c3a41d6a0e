// Package discovery scans fallback pages for embedded permit service URLs.
package discovery

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/permit"
)

var featureServerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https://services\.arcgis\.com/[^/\s"']+/arcgis/rest/services/[^/\s"']+/FeatureServer/\d+/query`),
	regexp.MustCompile(`https://[^/\s"']+\.arcgis\.com/[^/\s"']+/arcgis/rest/services/[^/\s"']+/FeatureServer/\d+/query`),
}

// permitTerms is the naming heuristic for permit-related services.
var permitTerms = []string{"permit", "building", "construction", "sf_", "mf_"}

const maxPerSource = 2

// Scanner finds new adapter candidates for a target whose configured
// endpoints have stopped producing records.
type Scanner struct {
	fetcher permit.Fetcher
	logger  *zap.Logger
}

// New builds a Scanner.
func New(fetcher permit.Fetcher, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{fetcher: fetcher, logger: logger}
}

// Scan fetches each fallback page and extracts FeatureServer query URLs
// whose names look permit-related, at most two per source. Unreachable
// fallback pages are skipped, not fatal; discovery is best effort.
func (s *Scanner) Scan(ctx context.Context, cfg permit.DiscoveryConfig) []permit.EndpointConfig {
	if !cfg.Enabled {
		return nil
	}

	var discovered []permit.EndpointConfig
	seen := make(map[string]struct{})
	for _, pageURL := range cfg.FallbackPages {
		resp, err := s.fetcher.Fetch(ctx, permit.FetchRequest{URL: pageURL})
		if err != nil {
			s.logger.Debug("fallback page unreachable", zap.String("url", pageURL), zap.Error(err))
			continue
		}

		found := extractServiceURLs(string(resp.Body))
		added := 0
		for _, serviceURL := range found {
			if added >= maxPerSource {
				break
			}
			if _, dup := seen[serviceURL]; dup {
				continue
			}
			seen[serviceURL] = struct{}{}
			discovered = append(discovered, permit.EndpointConfig{
				Name: "auto-discovered (" + serviceName(serviceURL) + ")",
				Kind: permit.KindArcGIS,
				URL:  serviceURL,
			})
			added++
		}
		if added > 0 {
			s.logger.Info("discovered permit endpoints",
				zap.String("source", pageURL), zap.Int("count", added))
		}
	}
	return discovered
}

func extractServiceURLs(content string) []string {
	var urls []string
	seen := make(map[string]struct{})
	for _, pattern := range featureServerPatterns {
		for _, match := range pattern.FindAllString(content, -1) {
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			if permitRelated(match) {
				urls = append(urls, match)
			}
		}
	}
	return urls
}

func permitRelated(serviceURL string) bool {
	lower := strings.ToLower(serviceURL)
	for _, term := range permitTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// serviceName pulls the service segment out of a FeatureServer query URL.
func serviceName(serviceURL string) string {
	parts := strings.Split(serviceURL, "/")
	for i, part := range parts {
		if part == "services" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return serviceURL
}
