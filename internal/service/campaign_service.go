// internal/service/campaign_service.go
package service

import (
    "fmt"
    "log"
    "strings"
    "time"

    appErrors "github.com/coldpitch/outreach-backend/internal/errors"
    "github.com/coldpitch/outreach-backend/internal/model"
    "github.com/coldpitch/outreach-backend/internal/repository"
)

type CampaignService struct {
    CampaignRepo repository.CampaignRepositoryInterface
    ContactRepo  repository.ContactRepositoryInterface
    Templates    *TemplateService
}

// CampaignDetails is the dashboard read model: configuration, progress
// counters and the append-only batch history.
type CampaignDetails struct {
    ID           int64      `json:"id"`
    TenantID     int64      `json:"tenant_id"`
    Name         string     `json:"name"`
    Status       string     `json:"status"`
    BaseTemplate string     `json:"base_template"`
    ListIDs      []int64    `json:"list_ids"`
    DailyLimit   int        `json:"daily_limit"`
    ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
    CreatedAt    time.Time  `json:"created_at"`
    UpdatedAt    *time.Time `json:"updated_at"`

    FailureReason string     `json:"failure_reason,omitempty"`
    CompletedAt   *time.Time `json:"completed_at,omitempty"`

    Stats        map[string]int      `json:"stats"`
    BatchNumber  int                 `json:"current_batch_number"`
    NextBatchAt  *time.Time          `json:"next_batch_send_time,omitempty"`
    FirstBatchAt *time.Time          `json:"first_batch_sent_at,omitempty"`
    BatchHistory []model.BatchRecord `json:"batch_history"`
}

func (s *CampaignService) CreateCampaign(tenantID int64, name, baseTemplate string, listIDs []int64, dailyLimit int, scheduledAt *string) (*model.Campaign, error) {
    if strings.TrimSpace(name) == "" {
        return nil, fmt.Errorf("campaign name is required")
    }
    if dailyLimit <= 0 {
        return nil, fmt.Errorf("daily limit must be a positive integer")
    }

    c := &model.Campaign{
        TenantID:     tenantID,
        Name:         name,
        BaseTemplate: baseTemplate,
        ListIDs:      listIDs,
        DailyLimit:   dailyLimit,
        Status:       model.StatusDraft,
    }

    if scheduledAt != nil {
        // parse scheduledAt string into time.Time
        t, err := time.Parse(time.RFC3339, *scheduledAt)
        if err != nil {
            return nil, err
        }
        c.ScheduledAt = &t
    }

    if err := s.CampaignRepo.Create(c); err != nil {
        return nil, err
    }

    return c, nil
}

// ActivateCampaign moves a draft into the scheduled status so the
// processor starts picking it up. Configuration is frozen from here on.
func (s *CampaignService) ActivateCampaign(id int64) error {
    c, err := s.CampaignRepo.GetByID(id)
    if err != nil {
        return err
    }
    if c.DailyLimit <= 0 {
        return appErrors.NewInvalidCampaignConfig(id, "daily limit must be a positive integer")
    }
    if len(c.ListIDs) == 0 {
        return appErrors.NewInvalidCampaignConfig(id, "campaign has no target lists")
    }
    return s.CampaignRepo.Activate(id)
}

// CancelCampaign is terminal. A batch already in flight finishes; no
// further batch starts.
func (s *CampaignService) CancelCampaign(id int64) error {
    c, err := s.CampaignRepo.GetByID(id)
    if err != nil {
        return err
    }
    if c.Terminal() {
        return fmt.Errorf("campaign %d is already %s", id, c.Status)
    }
    return s.CampaignRepo.Cancel(id)
}

// ForceEligibleNow makes the campaign due immediately; the next trigger
// invocation runs its batch.
func (s *CampaignService) ForceEligibleNow(id int64) error {
    return s.CampaignRepo.ForceEligible(id)
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize int, tenantID int64, status string) ([]model.Campaign, map[string]int, error) {
    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = 20
    }
    if pageSize > 100 {
        pageSize = 100
    }
    offset := (page - 1) * pageSize

    ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, tenantID, status)
    if err != nil {
        return nil, nil, err
    }

    campaigns := make([]model.Campaign, len(ptrs))
    for i, c := range ptrs {
        campaigns[i] = *c
    }

    totalPages := (total + pageSize - 1) / pageSize
    pagination := map[string]int{
        "page":        page,
        "page_size":   pageSize,
        "total_count": total,
        "total_pages": totalPages,
    }

    return campaigns, pagination, nil
}

// GetCampaignDetailsWithProgress assembles the dashboard view.
func (s *CampaignService) GetCampaignDetailsWithProgress(campaignID int64) (*CampaignDetails, error) {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        log.Println("Failed to fetch campaign:", err)
        return nil, err
    }

    history, err := s.CampaignRepo.ListBatchHistory(campaignID)
    if err != nil {
        return nil, err
    }

    stats := map[string]int{
        "total":     0,
        "remaining": 0,
        "processed": 0,
        "failed":    0,
    }

    details := &CampaignDetails{
        ID:            campaign.ID,
        TenantID:      campaign.TenantID,
        Name:          campaign.Name,
        Status:        campaign.Status,
        BaseTemplate:  campaign.BaseTemplate,
        ListIDs:       campaign.ListIDs,
        DailyLimit:    campaign.DailyLimit,
        ScheduledAt:   campaign.ScheduledAt,
        CreatedAt:     campaign.CreatedAt,
        UpdatedAt:     campaign.UpdatedAt,
        FailureReason: campaign.FailureReason,
        CompletedAt:   campaign.CompletedAt,
        Stats:         stats,
        BatchHistory:  history,
    }

    if p := campaign.Progress; p != nil {
        stats["remaining"] = len(p.Remaining)
        stats["processed"] = len(p.Processed)
        stats["failed"] = len(p.Failed)
        stats["total"] = p.TargetSize()
        details.BatchNumber = p.CurrentBatchNumber
        details.NextBatchAt = p.NextBatchSendTime
        details.FirstBatchAt = p.FirstBatchSentAt
    }

    return details, nil
}

// RenderPreview renders the campaign template for one contact, with an
// optional override template.
func (s *CampaignService) RenderPreview(campaignID, contactID int64, overrideTemplate *string) (string, error) {
    campaign, err := s.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return "", err
    }
    if campaign == nil {
        return "", fmt.Errorf("campaign not found")
    }

    contact, err := s.ContactRepo.GetByID(contactID)
    if err != nil {
        return "", err
    }
    if contact == nil {
        return "", fmt.Errorf("contact not found")
    }

    template := campaign.BaseTemplate

    if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
        template = *overrideTemplate
    }

    if strings.TrimSpace(template) == "" {
        return "", fmt.Errorf("template cannot be empty")
    }

    return s.Templates.Render(template, contact)
}
