package api

import (
	"errors"
	"net/http"
	"strings"

	"vodworks/internal/images"
)

// ImageUpload accepts one image and stores its two derived variants.
func (h *Handler) ImageUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	file, err := normalizeUploadedFile(r, h.TempDir)
	if err != nil {
		if errors.Is(err, ErrNoFile) {
			writeFail(w, http.StatusBadRequest, "no file in request")
			return
		}
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	defer removeStaged(file)

	targetType := coerceField(r.Form["targetType"])
	targetID := coerceField(r.Form["targetId"])
	uploader := coerceField(r.Form["uploader"])
	if !images.ValidTargetType(targetType) {
		writeFail(w, http.StatusBadRequest, "targetType must be users, instructors, or courses")
		return
	}
	if targetID == "" {
		writeFail(w, http.StatusBadRequest, "targetId is required")
		return
	}

	src, err := openStaged(file)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer src.Close()

	result, err := h.Images.Process(r.Context(), src, targetType, targetID, uploader)
	if err != nil {
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{
		"key":      result.Key,
		"url":      result.URL,
		"variants": result.Variants,
		"meta": map[string]interface{}{
			"width":   result.Width,
			"height":  result.Height,
			"removed": result.Removed,
		},
	})
}

type imageDeleteRequest struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Key        string `json:"key"`
}

// ImageDelete removes one key or every variant for a target.
func (h *Handler) ImageDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req imageDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" && (req.TargetType == "" || req.TargetID == "") {
		writeFail(w, http.StatusBadRequest, "key or targetType and targetId are required")
		return
	}
	report, err := h.Images.Delete(r.Context(), strings.TrimSpace(req.TargetType), strings.TrimSpace(req.TargetID), key)
	if err != nil {
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{
		"result": map[string]interface{}{
			"attempted": report.Attempted,
			"deleted":   report.Deleted,
			"errors":    len(report.Errors),
		},
	})
}
