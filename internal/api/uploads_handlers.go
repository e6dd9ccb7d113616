package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"vodworks/internal/objectstore"
	"vodworks/internal/queue"
)

// allowedVideoExtensions is the upload allow-list. Extension and declared
// type are both checked; the probe is the final arbiter.
var allowedVideoExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
	".avi":  {},
	".m4v":  {},
}

// Upload is the small/whole-file ingestion path. Files above the direct
// threshold are rejected with a structured response pointing the client at
// the multipart flow.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	kind := "lecture"
	if parseBool(coerceField(r.URL.Query()["isIntro"])) {
		kind = "intro"
	}
	tempDir := filepath.Join(h.TempDir, kind)

	file, err := normalizeUploadedFile(r, tempDir)
	if err != nil {
		if errors.Is(err, ErrNoFile) {
			writeFail(w, http.StatusBadRequest, "no file in request")
			return
		}
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}

	courseID := coerceField(r.Form["courseId"])
	lectureID := coerceField(r.Form["lectureId"])
	isIntro := kind == "intro" || parseBool(coerceField(r.Form["isIntro"]))
	if isIntro && kind != "intro" {
		kind = "intro"
	}

	if file.Size > h.Uploads.DirectThresholdBytes {
		os.Remove(file.Path)
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
			"ok":                   false,
			"reason":               "LARGE_FILE",
			"message":              fmt.Sprintf("file exceeds the %d byte direct upload limit", h.Uploads.DirectThresholdBytes),
			"directUploadEndpoint": "/upload/sign-multipart",
		})
		return
	}
	if err := validateVideoFile(file); err != nil {
		os.Remove(file.Path)
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	meta, err := h.Prober.Probe(r.Context(), file.Path)
	if err != nil {
		os.Remove(file.Path)
		writeFail(w, http.StatusBadRequest, "file is not a playable video: "+err.Error())
		return
	}

	videoID := courseID
	if videoID == "" {
		videoID = uuid.NewString()
	}
	job := queue.TranscodeJob{
		VideoID:    videoID,
		SourcePath: file.Path,
		CourseID:   courseID,
		LectureID:  lectureID,
		IsIntro:    isIntro,
	}
	if err := h.Queue.Enqueue(r.Context(), job); err != nil {
		os.Remove(file.Path)
		writeFail(w, http.StatusInternalServerError, "enqueue transcode: "+err.Error())
		return
	}

	writeOK(w, http.StatusOK, map[string]interface{}{
		"videoId":  videoID,
		"folder":   kind,
		"filename": file.OriginalName,
		"parsed": map[string]interface{}{
			"width":    meta.Width,
			"height":   meta.Height,
			"duration": meta.Duration,
			"size":     file.Size,
		},
	})
}

func validateVideoFile(file UploadedFile) error {
	ext := strings.ToLower(filepath.Ext(file.OriginalName))
	if _, ok := allowedVideoExtensions[ext]; !ok {
		return fmt.Errorf("file type %q is not allowed", ext)
	}
	if file.MimeType != "" && !strings.HasPrefix(file.MimeType, "video/") && file.MimeType != "application/octet-stream" {
		return fmt.Errorf("content type %q is not a video type", file.MimeType)
	}
	return nil
}

type signMultipartRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	CourseID    string `json:"courseId"`
	IsIntro     bool   `json:"isIntro"`
}

// SignMultipart begins a multipart session under a taxonomy key.
func (h *Handler) SignMultipart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req signMultipartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		writeFail(w, http.StatusBadRequest, "filename is required")
		return
	}
	var key string
	if strings.TrimSpace(req.CourseID) != "" {
		key = objectstore.RawVideoKey(strings.TrimSpace(req.CourseID), req.Filename, req.IsIntro)
	} else {
		key = objectstore.TempVideoKey(req.Filename)
	}
	uploadID, err := h.Store.BeginMultipartUpload(r.Context(), key, req.ContentType)
	if err != nil {
		writeFailDetail(w, http.StatusBadGateway, "begin multipart failed", err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"key": key, "uploadId": uploadID})
}

type signPartRequest struct {
	Key        string `json:"key"`
	UploadID   string `json:"uploadId"`
	PartNumber int32  `json:"partNumber"`
}

// SignPart presigns one part upload and always names the proxy fallback for
// clients that cannot reach the storage host directly.
func (h *Handler) SignPart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req signPartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Key == "" || req.UploadID == "" || req.PartNumber < 1 {
		writeFail(w, http.StatusBadRequest, "key, uploadId, and partNumber are required")
		return
	}
	url, err := h.Store.SignPartUpload(r.Context(), req.Key, req.UploadID, req.PartNumber)
	if err != nil {
		writeFailDetail(w, http.StatusBadGateway, "sign part failed", err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{
		"url":      url,
		"proxy":    true,
		"proxyUrl": "/upload/proxy-part",
	})
}

// ProxyPart accepts raw part bytes server-side and forwards them to storage.
// The part is staged in a temp file so only the transport buffer is
// memory-resident; the temp file is removed on every exit path.
func (h *Handler) ProxyPart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeFail(w, http.StatusBadRequest, "multipart payload required")
		return
	}

	var (
		key        string
		uploadID   string
		partNumber int32
		tempPath   string
		partSize   int64
	)
	defer func() {
		if tempPath != "" {
			os.Remove(tempPath)
		}
	}()

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeFail(w, http.StatusBadRequest, "read multipart data: "+err.Error())
			return
		}
		name := part.FormName()
		if name == "file" {
			tmp, err := os.CreateTemp(h.TempDir, "proxy-part-*")
			if err != nil {
				part.Close()
				writeFail(w, http.StatusInternalServerError, "stage part: "+err.Error())
				return
			}
			tempPath = tmp.Name()
			limit := h.Uploads.MaxProxyPartBytes
			written, copyErr := io.Copy(tmp, io.LimitReader(part, limit+1))
			part.Close()
			if closeErr := tmp.Close(); copyErr == nil {
				copyErr = closeErr
			}
			if copyErr != nil {
				writeFail(w, http.StatusInternalServerError, "stage part: "+copyErr.Error())
				return
			}
			if written > limit {
				writeFail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("part exceeds the %d byte proxy limit", limit))
				return
			}
			partSize = written
			continue
		}
		payload, readErr := io.ReadAll(part)
		part.Close()
		if readErr != nil {
			writeFail(w, http.StatusBadRequest, "read form field: "+readErr.Error())
			return
		}
		value := strings.TrimSpace(string(payload))
		switch name {
		case "key":
			key = value
		case "uploadId":
			uploadID = value
		case "partNumber":
			if n, parseErr := strconv.ParseInt(value, 10, 32); parseErr == nil {
				partNumber = int32(n)
			}
		}
	}

	if key == "" || uploadID == "" || partNumber < 1 || tempPath == "" {
		writeFail(w, http.StatusBadRequest, "key, uploadId, partNumber, and file are required")
		return
	}
	staged, err := os.Open(tempPath)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "reopen staged part: "+err.Error())
		return
	}
	defer staged.Close()
	etag, err := h.Store.UploadPartProxy(r.Context(), key, uploadID, partNumber, staged, partSize)
	if err != nil {
		writeFailDetail(w, http.StatusBadGateway, "proxy part failed", err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"ETag": etag})
}

type completeRequest struct {
	Key       string             `json:"key"`
	UploadID  string             `json:"uploadId"`
	Parts     []objectstore.Part `json:"parts"`
	CourseID  string             `json:"courseId"`
	LectureID string             `json:"lectureId"`
	IsIntro   bool               `json:"isIntro"`
}

// CompleteUpload finalizes a multipart session and enqueues the transcode.
// For intro uploads the stale processed intro prefix is deleted first so the
// re-upload fully supersedes old renditions; that cleanup is best-effort.
func (h *Handler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Key == "" || req.UploadID == "" || len(req.Parts) == 0 {
		writeFail(w, http.StatusBadRequest, "key, uploadId, and parts are required")
		return
	}
	if err := h.Store.CompleteMultipartUpload(r.Context(), req.Key, req.UploadID, req.Parts); err != nil {
		writeFailDetail(w, http.StatusBadGateway, "complete multipart failed", err.Error())
		return
	}

	courseID := strings.TrimSpace(req.CourseID)
	if courseID != "" && req.IsIntro {
		prefix := objectstore.IntroPrefix(courseID)
		if report, err := h.Store.DeletePrefix(r.Context(), prefix); err != nil {
			h.Logger.Warn("stale intro cleanup failed", "prefix", prefix, "error", err)
		} else if len(report.Errors) > 0 {
			h.Logger.Warn("stale intro cleanup incomplete", "prefix", prefix, "failed", len(report.Errors))
		}
	}

	videoID := courseID
	if videoID == "" {
		videoID = uuid.NewString()
	}
	job := queue.TranscodeJob{
		VideoID:   videoID,
		SourceKey: req.Key,
		CourseID:  courseID,
		LectureID: strings.TrimSpace(req.LectureID),
		IsIntro:   req.IsIntro,
	}
	if err := h.Queue.Enqueue(r.Context(), job); err != nil {
		writeFail(w, http.StatusInternalServerError, "enqueue transcode: "+err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"videoId": videoID, "key": req.Key})
}

type abortRequest struct {
	Key      string `json:"key"`
	UploadID string `json:"uploadId"`
}

// AbortUpload releases an unfinished multipart session.
func (h *Handler) AbortUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req abortRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Key == "" || req.UploadID == "" {
		writeFail(w, http.StatusBadRequest, "key and uploadId are required")
		return
	}
	if err := h.Store.AbortMultipartUpload(r.Context(), req.Key, req.UploadID); err != nil {
		writeFailDetail(w, http.StatusBadGateway, "abort multipart failed", err.Error())
		return
	}
	writeOK(w, http.StatusOK, nil)
}
