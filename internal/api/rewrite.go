package api

import (
	"net/url"
	"path"
	"strings"
)

// Manifest lines referencing other objects are rewritten to proxied paths so
// players keep every request on this host. Rewriting is idempotent: lines
// already pointing at the proxy (or any absolute URL) pass through.

// rewriteManifest rewrites every entry line of an HLS manifest to
// {proxyBase}{urlencoded resolved key}. manifestKey is the storage key of
// the manifest itself; relative entries resolve against its directory.
func rewriteManifest(data []byte, manifestKey, proxyBase string) []byte {
	dir := path.Dir(manifestKey)
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(trimmed, "://") || strings.HasPrefix(trimmed, proxyBase) {
			continue
		}
		lines[i] = proxyBase + url.QueryEscape(resolveManifestKey(dir, trimmed))
	}
	return []byte(strings.Join(lines, "\n"))
}

// resolveManifestKey turns a manifest entry into a storage key. Entries that
// already name a full taxonomy key pass through; genuinely relative
// filenames resolve against the manifest's own directory.
func resolveManifestKey(manifestDir, entry string) string {
	entry = path.Clean(strings.TrimPrefix(entry, "/"))
	if strings.HasPrefix(entry, "videos/") || strings.HasPrefix(entry, "uploads/") {
		return entry
	}
	if manifestDir == "." || manifestDir == "/" {
		return entry
	}
	return path.Join(manifestDir, entry)
}

// storageKeyFromProxyPath inverts the proxy path shape back to the storage
// key. The router hands us an already-decoded path, so this is a trim plus a
// defensive unescape for clients that double-encode.
func storageKeyFromProxyPath(requestPath, proxyBase string) string {
	key := strings.TrimPrefix(requestPath, proxyBase)
	if decoded, err := url.QueryUnescape(key); err == nil {
		key = decoded
	}
	return strings.TrimPrefix(strings.TrimSpace(key), "/")
}

// isManifestKey reports whether the key names an HLS manifest.
func isManifestKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".m3u8")
}
