package email

import (
	"context"
	"errors"
	"time"

	"github.com/adonese/bizpilot/fields"
	"gorm.io/gorm"
)

var errCampaignNotFound = errors.New("campaign not found")

// Repo persists campaigns and their sends with gorm.
type Repo struct {
	DB *gorm.DB
}

// CampaignSummary is a campaign with its send counters.
type CampaignSummary struct {
	fields.EmailCampaign
	TotalRecipients int64
	SentCount       int64
}

// CreateCampaign stores c and one pending send per recipient in a single transaction.
func (r *Repo) CreateCampaign(ctx context.Context, c *fields.EmailCampaign, recipients []fields.Customer) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Sends").Create(c).Error; err != nil {
			return err
		}
		sends := make([]fields.EmailSend, 0, len(recipients))
		for _, cu := range recipients {
			if !cu.HasEmail() {
				continue
			}
			sends = append(sends, fields.EmailSend{
				CampaignID: c.ID,
				CustomerID: cu.CustomerID,
				Email:      *cu.Email,
				Status:     fields.SendPending,
			})
		}
		if len(sends) == 0 {
			return nil
		}
		return tx.Omit("Customer").CreateInBatches(sends, 100).Error
	})
}

func (r *Repo) Campaign(ctx context.Context, id int64) (*fields.EmailCampaign, error) {
	var c fields.EmailCampaign
	if err := r.DB.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errCampaignNotFound
		}
		return nil, err
	}
	return &c, nil
}

// PendingSends returns the pending sends of a campaign with their customers loaded.
func (r *Repo) PendingSends(ctx context.Context, campaignID int64) ([]fields.EmailSend, error) {
	var out []fields.EmailSend
	err := r.DB.WithContext(ctx).Preload("Customer").
		Where("campaign_id = ? AND status = ?", campaignID, fields.SendPending).
		Order("id").Find(&out).Error
	return out, err
}

// FinishCampaign writes the send outcomes and marks the campaign sent.
func (r *Repo) FinishCampaign(ctx context.Context, campaignID int64, sends []fields.EmailSend, sentAt time.Time) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range sends {
			err := tx.Model(&fields.EmailSend{}).Where("id = ?", s.ID).Updates(map[string]any{
				"status":        s.Status,
				"sent_at":       s.SentAt,
				"error_message": s.ErrorMessage,
			}).Error
			if err != nil {
				return err
			}
		}
		return tx.Model(&fields.EmailCampaign{}).Where("id = ?", campaignID).Updates(map[string]any{
			"status":  fields.CampaignSent,
			"sent_at": sentAt,
		}).Error
	})
}

// StatusCounts groups the sends of a campaign by status.
func (r *Repo) StatusCounts(ctx context.Context, campaignID int64) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.DB.WithContext(ctx).Model(&fields.EmailSend{}).
		Select("status, COUNT(id) AS count").
		Where("campaign_id = ?", campaignID).
		Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// ListCampaigns pages campaigns newest first.
func (r *Repo) ListCampaigns(ctx context.Context, page, perPage int) ([]CampaignSummary, int64, error) {
	db := r.DB.WithContext(ctx)
	var total int64
	if err := db.Model(&fields.EmailCampaign{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var campaigns []fields.EmailCampaign
	err := db.Order("created_at DESC").Order("id DESC").
		Limit(perPage).Offset((page - 1) * perPage).Find(&campaigns).Error
	if err != nil {
		return nil, 0, err
	}
	out := make([]CampaignSummary, 0, len(campaigns))
	if len(campaigns) == 0 {
		return out, total, nil
	}
	ids := make([]int64, len(campaigns))
	for i, c := range campaigns {
		ids[i] = c.ID
	}
	var counts []struct {
		CampaignID int64
		Status     string
		Count      int64
	}
	err = db.Model(&fields.EmailSend{}).
		Select("campaign_id, status, COUNT(id) AS count").
		Where("campaign_id IN ?", ids).
		Group("campaign_id, status").Scan(&counts).Error
	if err != nil {
		return nil, 0, err
	}
	totals := map[int64]int64{}
	sent := map[int64]int64{}
	for _, c := range counts {
		totals[c.CampaignID] += c.Count
		if c.Status == fields.SendSent {
			sent[c.CampaignID] += c.Count
		}
	}
	for _, c := range campaigns {
		out = append(out, CampaignSummary{EmailCampaign: c, TotalRecipients: totals[c.ID], SentCount: sent[c.ID]})
	}
	return out, total, nil
}

// DueCampaigns returns ids of scheduled campaigns whose time has come.
func (r *Repo) DueCampaigns(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	err := r.DB.WithContext(ctx).Model(&fields.EmailCampaign{}).
		Where("status = ? AND scheduled_at <= ?", fields.CampaignScheduled, now.UTC()).
		Order("scheduled_at").Pluck("id", &ids).Error
	return ids, err
}

// ClaimCampaign moves a draft campaign, or a scheduled one that is due, to sent. It reports
// false when another caller already took it.
func (r *Repo) ClaimCampaign(ctx context.Context, id int64, now time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&fields.EmailCampaign{}).
		Where("id = ?", id).
		Where("status = ? OR (status = ? AND scheduled_at <= ?)", fields.CampaignDraft, fields.CampaignScheduled, now.UTC()).
		Update("status", fields.CampaignSent)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
