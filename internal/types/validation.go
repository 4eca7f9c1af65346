package types

import (
	"fmt"
	"net/url"
	"strings"
)

// ArchiveExtensions lists the file suffixes accepted for an archive path.
// Compressed variants are decoded transparently by the archive package.
var ArchiveExtensions = []string{".json", ".json.gz", ".json.zst"}

// ValidateArchivePath checks that the archive path is non-empty and carries
// one of the accepted extensions.
func ValidateArchivePath(path string) error {
	if path == "" {
		return NewAppError(ErrCodeValidationArchivePath, "archive path is required", nil)
	}
	lower := strings.ToLower(path)
	for _, ext := range ArchiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return nil
		}
	}
	return NewAppError(ErrCodeValidationArchivePath,
		fmt.Sprintf("archive %q must have one of the extensions %s", path, strings.Join(ArchiveExtensions, ", ")), nil)
}

// ValidateDestinationURL checks that the destination has a scheme, a host and
// a path component. Anything less is rejected before a run starts.
func ValidateDestinationURL(raw string) error {
	if raw == "" {
		return NewAppError(ErrCodeValidationDestination, "destination URL is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return NewAppError(ErrCodeValidationDestination, "destination URL cannot be parsed", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" || parsed.Path == "" {
		return NewAppError(ErrCodeValidationDestination,
			fmt.Sprintf("destination URL %q needs scheme, host and path", raw), nil)
	}
	return nil
}

// SSRFBlockedCIDRs defines the IP ranges blocked when private network
// protection is enabled for a run.
var SSRFBlockedCIDRs = []string{
	"127.0.0.0/8",    // Localhost
	"10.0.0.0/8",     // Private Class A
	"172.16.0.0/12",  // Private Class B
	"192.168.0.0/16", // Private Class C
	"169.254.0.0/16", // Link-local (AWS Metadata!)
	"0.0.0.0/8",      // Current network
	"224.0.0.0/4",    // Multicast
	"240.0.0.0/4",    // Reserved
	"100.64.0.0/10",  // Shared Address Space (CGN)
	"198.18.0.0/15",  // Benchmark testing
	"fc00::/7",       // IPv6 private
	"fe80::/10",      // IPv6 link-local
	"::1/128",        // IPv6 localhost
}
