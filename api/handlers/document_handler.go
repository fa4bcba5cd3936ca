package handlers

import (
	"io"
	"net/http"
	"strconv"

	"example.com/santekene/services/ledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DocumentHandler handles document upload, retrieval and verification
type DocumentHandler struct {
	svc *service.AnchorService
	log *logrus.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(svc *service.AnchorService, log *logrus.Logger) *DocumentHandler {
	return &DocumentHandler{svc: svc, log: log}
}

// actor reads the authenticated caller forwarded by the gateway
func actor(c *gin.Context) (uint, string, bool) {
	id, err := strconv.ParseUint(c.GetHeader("X-User-ID"), 10, 32)
	if err != nil || id == 0 {
		return 0, "", false
	}
	role := c.GetHeader("X-User-Role")
	if role == "" {
		role = "PATIENT"
	}
	return uint(id), role, true
}

// UploadDocument handles POST /documents (multipart)
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	uploaderID, uploaderRole, ok := actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	patientID, err := strconv.ParseUint(c.PostForm("patient_id"), 10, 32)
	if err != nil || patientID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient_id"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}

	docType := c.PostForm("document_type")
	if docType == "" {
		docType = "OTHER"
	}
	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	result, err := h.svc.UploadDocument(c.Request.Context(), service.UploadRequest{
		Content:      content,
		Filename:     fileHeader.Filename,
		MimeType:     mimeType,
		DocumentType: docType,
		PatientID:    uint(patientID),
		UploaderID:   uploaderID,
		UploaderRole: uploaderRole,
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to upload document")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload document"})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetDocument handles GET /documents/:id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	doc, err := h.svc.GetDocument(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DownloadDocument handles GET /documents/:id/content
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	doc, content, err := h.svc.DownloadDocument(c.Request.Context(), uint(id))
	if err != nil {
		h.log.WithError(err).Error("Failed to download document")
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(doc.Name))
	c.Data(http.StatusOK, doc.MimeType, content)
}

// ListPatientDocuments handles GET /patients/:id/documents
func (h *DocumentHandler) ListPatientDocuments(c *gin.Context) {
	patientID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	docs, err := h.svc.ListPatientDocuments(c.Request.Context(), uint(patientID), limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to list documents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// VerifyDocument handles POST /documents/:id/verify. An optional multipart
// file is verified instead of the stored content when provided.
func (h *DocumentHandler) VerifyDocument(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	var content []byte
	if fileHeader, err := c.FormFile("file"); err == nil {
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		defer file.Close()
		content, err = io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
	}

	result, err := h.svc.VerifyDocumentIntegrity(c.Request.Context(), uint(id), content)
	if err != nil {
		h.log.WithError(err).Error("Failed to verify document")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify document"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GrantDseAccess handles POST /dse/grants
func (h *DocumentHandler) GrantDseAccess(c *gin.Context) {
	patientID, _, ok := actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req struct {
		DseID         uint   `json:"dse_id" binding:"required"`
		GrantedToID   uint   `json:"granted_to_id" binding:"required"`
		GrantedToRole string `json:"granted_to_role" binding:"required"`
		Scope         string `json:"scope"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reward, err := h.svc.RecordDseAccessGranted(c.Request.Context(), service.DseGrantRequest{
		PatientID:     patientID,
		DseID:         req.DseID,
		GrantedToID:   req.GrantedToID,
		GrantedToRole: req.GrantedToRole,
		Scope:         req.Scope,
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to record access grant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record access grant"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"recorded": true, "reward": reward})
}
