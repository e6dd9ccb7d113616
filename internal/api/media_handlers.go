package api

import (
	"crypto/subtle"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vodworks/internal/objectstore"
)

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Range, Origin, Accept")
}

// HLSProxy streams objects to players. Segments pass through verbatim;
// manifests are rewritten line by line so every child URL points back at
// this proxy.
func (h *Handler) HLSProxy(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		methodNotAllowed(w, r, "GET, OPTIONS")
		return
	}

	key := storageKeyFromProxyPath(r.URL.Path, h.ProxyBase)
	if key == "" {
		writeFail(w, http.StatusBadRequest, "object key is required")
		return
	}
	body, size, contentType, err := h.Store.Get(r.Context(), key)
	if err != nil {
		writeFail(w, http.StatusNotFound, "object not found: "+key)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = objectstore.ContentTypeForKey(key)
	}

	if isManifestKey(key) {
		raw, err := io.ReadAll(body)
		if err != nil {
			writeFail(w, http.StatusBadGateway, "read manifest: "+err.Error())
			return
		}
		rewritten := rewriteManifest(raw, key, h.ProxyBase)
		w.Header().Set("Content-Type", objectstore.ContentTypeForKey(key))
		w.Header().Set("Cache-Control", objectstore.CacheControlForKey(key))
		w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rewritten)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", objectstore.CacheControlForKey(key))
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// PlaybackURL computes where a player should fetch the master manifest,
// without touching the object store: a CDN URL when one is configured, the
// proxy path otherwise.
func (h *Handler) PlaybackURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	query := r.URL.Query()
	courseID := coerceField(query["courseId"])
	lectureID := coerceField(query["lectureId"])
	isIntro := parseBool(coerceField(query["isIntro"]))
	if courseID == "" {
		writeFail(w, http.StatusBadRequest, "courseId is required")
		return
	}
	prefix := objectstore.DestinationPrefix(courseID, lectureID, courseID, isIntro)
	key := prefix + "/master.m3u8"

	playback := h.ProxyBase + url.QueryEscape(key)
	if h.Store.HasCDN() {
		playback = h.Store.PublicURL(key)
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"url": playback})
}

type mediaDeleteRequest struct {
	Type      string `json:"type"`
	CourseID  string `json:"courseId"`
	LectureID string `json:"lectureId"`
}

// MediaDelete removes processed output, scoped to one lecture, one course,
// or a course's entire footprint including raw uploads. Bearer-authenticated
// with a constant-time token compare.
func (h *Handler) MediaDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !h.authorizeDelete(r) {
		writeFail(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}
	var req mediaDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	courseID := strings.TrimSpace(req.CourseID)
	if courseID == "" {
		writeFail(w, http.StatusBadRequest, "courseId is required")
		return
	}

	var prefixes []string
	switch req.Type {
	case "lecture":
		lectureID := strings.TrimSpace(req.LectureID)
		if lectureID == "" {
			writeFail(w, http.StatusBadRequest, "lectureId is required for type lecture")
			return
		}
		prefixes = []string{objectstore.DestinationPrefix(courseID, lectureID, "", false)}
	case "course":
		prefixes = []string{"videos/courses/" + courseID}
	case "all":
		prefixes = []string{
			"videos/courses/" + courseID,
			"uploads/videos/courses/" + courseID,
		}
	default:
		writeFail(w, http.StatusBadRequest, "type must be lecture, course, or all")
		return
	}

	results := make([]map[string]interface{}, 0, len(prefixes))
	for _, prefix := range prefixes {
		report, err := h.Store.DeletePrefix(r.Context(), prefix)
		entry := map[string]interface{}{
			"prefix":    prefix,
			"attempted": report.Attempted,
			"deleted":   report.Deleted,
			"errors":    len(report.Errors),
		}
		if err != nil {
			entry["error"] = err.Error()
		}
		results = append(results, entry)
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (h *Handler) authorizeDelete(r *http.Request) bool {
	if h.DeleteToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return false
	}
	token := strings.TrimSpace(header[7:])
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.DeleteToken)) == 1
}

// ProbeMedia inspects a local path or a stored object and returns its video
// metadata. Keys are downloaded to a temp file first; probing needs a
// seekable local file.
func (h *Handler) ProbeMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	query := r.URL.Query()
	localPath := coerceField(query["path"])
	key := coerceField(query["key"])
	if localPath == "" && key == "" {
		writeFail(w, http.StatusBadRequest, "path or key is required")
		return
	}

	target := localPath
	if key != "" {
		tmp := filepath.Join(h.TempDir, "probe-"+filepath.Base(key))
		if err := h.Store.Download(r.Context(), key, tmp); err != nil {
			writeFail(w, http.StatusNotFound, "fetch object: "+err.Error())
			return
		}
		defer os.Remove(tmp)
		target = tmp
	}

	meta, err := h.Prober.Probe(r.Context(), target)
	if err != nil {
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{
		"meta": map[string]interface{}{
			"width":    meta.Width,
			"height":   meta.Height,
			"duration": meta.Duration,
		},
	})
}
