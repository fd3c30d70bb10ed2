package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/core/ingestion"
	"github.com/relaydesk/relaydesk/internal/models"
)

// KnowledgeHandler manages knowledge-base articles: upload to object
// storage, enqueue for ingestion, list per tenant.
type KnowledgeHandler struct {
	store    core.Store
	obj      core.ObjectClient
	ingestor *ingestion.ArticleIngestor
	cfg      *config.Config
}

func NewKnowledgeHandler(store core.Store, obj core.ObjectClient, ing *ingestion.ArticleIngestor, cfg *config.Config) *KnowledgeHandler {
	return &KnowledgeHandler{store: store, obj: obj, ingestor: ing, cfg: cfg}
}

const maxUploadBytes = 32 << 20

// Upload accepts a multipart article file plus tenant/title fields.
func (h *KnowledgeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	tenantID := r.FormValue("tenant_id")
	title := r.FormValue("title")
	if tenantID == "" || title == "" {
		http.Error(w, "tenant_id and title required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	articleID := uuid.NewString()
	key := fmt.Sprintf("%s/%s/%s", tenantID, articleID, header.Filename)

	url, err := h.obj.PutFile(r.Context(), h.cfg.BucketName, key, file, contentType)
	if err != nil {
		http.Error(w, "upload failed", http.StatusBadGateway)
		return
	}

	now := time.Now()
	article := &models.KnowledgeArticle{
		ID:          articleID,
		TenantID:    tenantID,
		Title:       title,
		StorageURL:  url,
		ContentType: contentType,
		Status:      "uploaded",
		Version:     "1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateArticle(r.Context(), article); err != nil {
		http.Error(w, "persist article failed", http.StatusInternalServerError)
		return
	}

	h.ingestor.Enqueue(articleID)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(article)
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id required", http.StatusBadRequest)
		return
	}
	articles, err := h.store.ListArticlesByTenant(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(articles)
}
