// internal/controller/campaign_controller.go
package controller

import (
    "context"
    "encoding/json"
    "net/http"
    "strconv"

    "github.com/coldpitch/outreach-backend/internal/service"

    "github.com/go-chi/chi/v5"
)

type CampaignController struct {
    CampaignService *service.CampaignService
    Processor       *service.CampaignProcessor
}

func tenantID(r *http.Request) int64 {
    id, _ := strconv.ParseInt(r.Header.Get("X-Tenant-ID"), 10, 64)
    return id
}

func campaignID(r *http.Request) (int64, error) {
    return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
    var body struct {
        Name         string  `json:"name"`
        BaseTemplate string  `json:"base_template"`
        ListIDs      []int64 `json:"list_ids"`
        DailyLimit   int     `json:"daily_limit"`
        ScheduledAt  *string `json:"scheduled_at"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }

    campaign, err := c.CampaignService.CreateCampaign(tenantID(r), body.Name, body.BaseTemplate, body.ListIDs, body.DailyLimit, body.ScheduledAt)
    if err != nil {
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }

    json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
    // Parse query parameters
    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
    status := r.URL.Query().Get("status")

    // Default values if missing
    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = 20
    }

    campaigns, pagination, err := c.CampaignService.ListCampaigns(page, pageSize, tenantID(r), status)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }

    json.NewEncoder(w).Encode(map[string]interface{}{
        "data":       campaigns,
        "pagination": pagination, // already contains total_count, total_pages, page, page_size
    })
}

func (c *CampaignController) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        http.Error(w, "invalid campaign id", http.StatusBadRequest)
        return
    }

    if err := c.CampaignService.ActivateCampaign(id); err != nil {
        http.Error(w, err.Error(), http.StatusConflict)
        return
    }

    json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": "scheduled"})
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        http.Error(w, "invalid campaign id", http.StatusBadRequest)
        return
    }

    if err := c.CampaignService.CancelCampaign(id); err != nil {
        http.Error(w, err.Error(), http.StatusConflict)
        return
    }

    json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": "cancelled"})
}

func (c *CampaignController) ForceEligibleNow(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        http.Error(w, "invalid campaign id", http.StatusBadRequest)
        return
    }

    if err := c.CampaignService.ForceEligibleNow(id); err != nil {
        http.Error(w, err.Error(), http.StatusConflict)
        return
    }

    json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "forced": true})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        http.Error(w, "invalid campaign id", http.StatusBadRequest)
        return
    }

    var body struct {
        ContactID        int64   `json:"contact_id"`
        OverrideTemplate *string `json:"override_template"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }

    rendered, err := c.CampaignService.RenderPreview(id, body.ContactID, body.OverrideTemplate)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }

    json.NewEncoder(w).Encode(map[string]interface{}{
        "rendered_message": rendered,
        "used_template":    body.OverrideTemplate,
        "contact_id":       body.ContactID,
    })
}

// ProcessNow is the manual trigger: run one processor invocation. It may
// overlap a scheduled tick; the per-campaign claim keeps that safe.
func (c *CampaignController) ProcessNow(w http.ResponseWriter, r *http.Request) {
    summary, err := c.Processor.ProcessDueCampaigns(context.Background())
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }

    json.NewEncoder(w).Encode(summary)
}
