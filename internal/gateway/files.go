package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/altrentals/deedgate/internal/auth"
	"github.com/altrentals/deedgate/internal/casstore"
	"github.com/altrentals/deedgate/internal/model"
	"github.com/altrentals/deedgate/internal/queue"
	"github.com/altrentals/deedgate/internal/storage"
)

// uploadPayload is the JSON-encoded descriptor supplied alongside the file
// bytes in the multipart "payload" part.
type uploadPayload struct {
	FileName   string             `json:"fileName"`
	Restricted bool               `json:"restricted"`
	Metadata   model.FileMetadata `json:"metadata"`
}

// handleUpload accepts a multipart upload with a "file" part (bytes) and a
// "payload" part (JSON descriptor). Restricted files go to the private tier
// under a fresh id; public files go straight to the content-addressed tier.
// Exactly one record is created per successful call.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := s.identity(r)
	if err != nil || caller.Anonymous() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	var (
		declared *uploadPayload
		tmp      *tempUpload
	)
	defer func() {
		// Release the spooled upload on every exit path.
		if tmp != nil {
			tmp.f.Close()
			os.Remove(tmp.path)
		}
	}()
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			http.Error(w, "failed to read upload", http.StatusBadRequest)
			return
		}
		switch part.FormName() {
		case "payload":
			var p uploadPayload
			if err := json.NewDecoder(part).Decode(&p); err != nil {
				part.Close()
				http.Error(w, "malformed payload part", http.StatusBadRequest)
				return
			}
			declared = &p
		case "file":
			if tmp == nil {
				spooled, err := s.spoolPart(part)
				if err != nil {
					part.Close()
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				tmp = spooled
			}
		}
		part.Close()
	}
	if declared == nil {
		http.Error(w, "missing payload part", http.StatusBadRequest)
		return
	}
	if tmp == nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}

	meta := declared.Metadata
	if meta.MimeType == "" {
		meta.MimeType = tmp.contentType
	}
	meta.Size = tmp.size
	if meta.OriginalName == "" {
		meta.OriginalName = tmp.filename
	}
	fileName := declared.FileName
	if fileName == "" {
		fileName = tmp.filename
	}

	rec := &model.FileRecord{
		FileName:   fileName,
		Owner:      caller.Address,
		Restricted: declared.Restricted,
		Metadata:   meta,
	}
	if declared.Restricted {
		if err := s.storeRestricted(ctx, rec, tmp); err != nil {
			log.Printf("upload %s: %v", fileName, err)
			http.Error(w, "failed to store file", http.StatusInternalServerError)
			return
		}
	} else {
		if err := s.storePublic(ctx, rec, tmp); err != nil {
			log.Printf("upload %s: %v", fileName, err)
			http.Error(w, "failed to store file", http.StatusInternalServerError)
			return
		}
	}
	respondText(w, http.StatusOK, rec.FileID)
}

func (s *Server) storeRestricted(ctx context.Context, rec *model.FileRecord, tmp *tempUpload) error {
	fileID := uuid.NewString()
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}
	if err := s.private.Put(ctx, fileID, tmp.f, tmp.size, rec.ContentType()); err != nil {
		return err
	}
	rec.FileID = fileID
	rec.StoreKey = fileID
	if tmp.contentType == "application/pdf" && s.tasks != nil {
		rec.ExtractStatus = model.ExtractQueued
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	if rec.ExtractStatus == model.ExtractQueued {
		payload := queue.ExtractPayload{FileID: rec.FileID, StoreKey: rec.StoreKey, FileName: rec.FileName}
		if err := s.tasks.EnqueueExtract(ctx, payload); err != nil {
			// Extraction is a convenience; the upload already succeeded.
			log.Printf("enqueue extract for %s: %v", rec.FileID, err)
		}
	}
	return nil
}

func (s *Server) storePublic(ctx context.Context, rec *model.FileRecord, tmp *tempUpload) error {
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}
	addr, err := s.public.Add(ctx, tmp.f, tmp.size, rec.ContentType())
	if err != nil {
		return err
	}
	rec.FileID = addr
	if err := s.records.Create(ctx, rec); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	return nil
}

// handleUploadJSON stores a raw JSON document (e.g. a registration form) in
// the public content-addressed tier and returns the content address.
func (s *Server) handleUploadJSON(w http.ResponseWriter, r *http.Request) {
	caller, err := s.identity(r)
	if err != nil || caller.Anonymous() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(data) {
		http.Error(w, "body is not valid json", http.StatusBadRequest)
		return
	}
	addr, err := s.public.AddBytes(r.Context(), data, "application/json")
	if err != nil {
		log.Printf("upload json: %v", err)
		http.Error(w, "failed to store document", http.StatusInternalServerError)
		return
	}
	respondText(w, http.StatusOK, addr)
}

// handlePublish copies a restricted file into the public content-addressed
// tier and rewrites its record: fileId becomes the content address and
// restricted flips to false. Validator capability required.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := s.identity(r)
	if err != nil || !auth.ValidatorOnly().Allows(caller) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		FileID string `json:"fileId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == "" {
		http.Error(w, "fileId is required", http.StatusBadRequest)
		return
	}
	rec, err := s.records.Get(ctx, req.FileID)
	if err != nil {
		s.respondLookupError(w, "publish", req.FileID, err)
		return
	}
	if !rec.Restricted {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	obj, err := s.private.Get(ctx, rec.StoreKey)
	if err != nil {
		log.Printf("publish %s: %v", req.FileID, err)
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	data, err := io.ReadAll(obj)
	obj.Close()
	if err != nil {
		log.Printf("publish %s: %v", req.FileID, err)
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	addr, err := s.public.AddBytes(ctx, data, rec.ContentType())
	if err != nil {
		log.Printf("publish %s: %v", req.FileID, err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	if err := s.records.Publish(ctx, req.FileID, addr); err != nil {
		s.respondLookupError(w, "publish", req.FileID, err)
		return
	}
	if s.tasks != nil {
		// Removal of the private copy is best effort and not part of the
		// publish contract.
		if err := s.tasks.EnqueueCleanup(ctx, queue.CleanupPayload{StoreKey: rec.StoreKey}); err != nil {
			log.Printf("enqueue cleanup for %s: %v", rec.StoreKey, err)
		}
	}
	respondText(w, http.StatusOK, addr)
}

// handleDownload streams file bytes. Public records need no identity;
// restricted records require the owner or a validator, or a valid signed
// URL credential.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fileID := r.URL.Query().Get("fileId")
	if fileID == "" {
		http.Error(w, "fileId is required", http.StatusBadRequest)
		return
	}
	rec, err := s.records.Get(ctx, fileID)
	if err != nil {
		// JSON documents are pinned without a bookkeeping record; serve
		// them straight from the public tier when the id is a content
		// address.
		if errors.Is(err, storage.ErrNotFound) && casstore.ValidAddress(fileID) {
			s.serveUntracked(w, r, fileID)
			return
		}
		s.respondLookupError(w, "download", fileID, err)
		return
	}
	var stream io.ReadCloser
	if rec.Restricted {
		if !s.restrictedAccess(r, rec) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		stream, err = s.private.Get(ctx, rec.StoreKey)
	} else {
		stream, err = s.public.Get(ctx, rec.FileID)
	}
	if err != nil {
		log.Printf("download %s: %v", fileID, err)
		http.Error(w, "file unavailable", http.StatusInternalServerError)
		return
	}
	defer stream.Close()
	w.Header().Set("Content-Type", rec.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.FileName))
	if rec.Metadata.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rec.Metadata.Size, 10))
	}
	if _, err := io.Copy(w, stream); err != nil {
		log.Printf("download %s: stream: %v", fileID, err)
	}
}

// serveUntracked streams public bytes for a content address that has no
// backing record. The object is read fully before headers go out so a store
// miss still yields a clean 404.
func (s *Server) serveUntracked(w http.ResponseWriter, r *http.Request, addr string) {
	obj, err := s.public.Get(r.Context(), addr)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", addr))
	w.Write(data)
}

// handleGetInfo returns the record metadata. Internal-only fields are
// stripped by the model's JSON tags.
func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("fileId")
	if fileID == "" {
		http.Error(w, "fileId is required", http.StatusBadRequest)
		return
	}
	rec, err := s.records.Get(r.Context(), fileID)
	if err != nil {
		s.respondLookupError(w, "info", fileID, err)
		return
	}
	if rec.Restricted && !s.restrictedAccess(r, rec) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleSignedURL mints a short-lived signed download link for a restricted
// file, so the owner can hand access to a party without a session token.
func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("fileId")
	if fileID == "" {
		http.Error(w, "fileId is required", http.StatusBadRequest)
		return
	}
	rec, err := s.records.Get(r.Context(), fileID)
	if err != nil {
		s.respondLookupError(w, "signed-url", fileID, err)
		return
	}
	if !rec.Restricted {
		http.Error(w, "file is not restricted", http.StatusBadRequest)
		return
	}
	caller, err := s.identity(r)
	if err != nil || !auth.OwnerOrValidator(rec.Owner).Allows(caller) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	expiry := time.Now().Add(s.cfg.SignedURLTTL).Unix()
	signature := s.signer.Sign(rec.FileID, expiry)
	expires := strconv.FormatInt(expiry, 10)
	respondJSON(w, http.StatusOK, map[string]string{
		"url":     fmt.Sprintf("/files?download=true&fileId=%s&expires=%s&signature=%s", rec.FileID, expires, signature),
		"expires": expires,
	})
}

// restrictedAccess decides whether the request may touch a restricted
// record: owner-or-validator identity, or a valid signed URL credential.
func (s *Server) restrictedAccess(r *http.Request, rec *model.FileRecord) bool {
	caller, err := s.identity(r)
	if err == nil && auth.OwnerOrValidator(rec.Owner).Allows(caller) {
		return true
	}
	q := r.URL.Query()
	expires, signature := q.Get("expires"), q.Get("signature")
	if expires != "" && signature != "" {
		return s.signer.Validate(rec.FileID, expires, signature)
	}
	return false
}

func (s *Server) respondLookupError(w http.ResponseWriter, op, fileID string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	log.Printf("%s %s: %v", op, fileID, err)
	http.Error(w, "lookup failed", http.StatusInternalServerError)
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// spoolPart streams one multipart part to a temp file, enforcing the size
// limit and sniffing the content type from the first 512 bytes.
func (s *Server) spoolPart(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "deedgate-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				cleanup()
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				cleanup()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			cleanup()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		cleanup()
		return nil, errors.New("empty file")
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}
