package boxes

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// enrichmentConcurrency bounds the per-box lookups run while listing.
const enrichmentConcurrency = 4

// BoxView is a box with its holder and pending applicants.
type BoxView struct {
	ID                  uint    `json:"id"`
	Condition1          string  `json:"condition1"`
	Condition2          string  `json:"condition2"`
	Condition3          string  `json:"condition3"`
	Condition4          string  `json:"condition4"`
	CurrentHolder       *string `json:"current_holder"`
	HolderConditions    *string `json:"holder_conditions"`
	PendingApplications *string `json:"pending_applications"`
}

// BoxDetailView adds every pending application to a BoxView.
type BoxDetailView struct {
	BoxView
	// Applications is the comma-joined "username:conditions_json" list, nil when none are pending.
	Applications *string           `json:"applications"`
	Pending      []ApplicationView `json:"pending"`
}

// ApplicationView is a pending application joined with its applicant.
type ApplicationView struct {
	ID            uint      `json:"id"`
	BoxID         uint      `json:"box_id"`
	UserID        uint      `json:"user_id"`
	Username      string    `json:"username"`
	ConditionsMet string    `json:"conditions_met"`
	Conditions    []string  `json:"conditions"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// PendingApplicationView is an application with the box's condition text, for admin review.
type PendingApplicationView struct {
	ApplicationView
	Condition1 string `json:"condition1"`
	Condition2 string `json:"condition2"`
	Condition3 string `json:"condition3"`
	Condition4 string `json:"condition4"`
}

type holderRow struct {
	Username      string
	ConditionsMet string
}

type applicationRow struct {
	ID            uint
	BoxID         uint
	UserID        uint
	Username      string
	ConditionsMet string
	Status        string
	CreatedAt     time.Time
	Condition1    string
	Condition2    string
	Condition3    string
	Condition4    string
}

// ListBoxes returns every box in id order, enriched with holder and applicant data.
func (s *Service) ListBoxes(ctx context.Context) ([]BoxView, error) {
	var stored []Box
	if err := s.db.WithContext(ctx).Order("id").Find(&stored).Error; err != nil {
		return nil, newServiceError(opListBoxes, reasonQueryFailed, err)
	}

	views := make([]BoxView, len(stored))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(enrichmentConcurrency)
	for index, box := range stored {
		group.Go(func() error {
			view, _, err := s.enrich(groupCtx, box)
			if err != nil {
				return err
			}
			views[index] = view
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		s.logFailure(opListBoxes, err)
		return nil, err
	}
	return views, nil
}

// GetBox returns one enriched box including the pending application list.
func (s *Service) GetBox(ctx context.Context, boxID uint) (BoxDetailView, error) {
	var box Box
	err := s.db.WithContext(ctx).Take(&box, boxID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BoxDetailView{}, ErrBoxNotFound
	}
	if err != nil {
		return BoxDetailView{}, newServiceError(opGetBox, reasonQueryFailed, err)
	}

	view, pending, err := s.enrich(ctx, box)
	if err != nil {
		s.logFailure(opGetBox, err, zap.Uint("box_id", boxID))
		return BoxDetailView{}, err
	}

	detail := BoxDetailView{BoxView: view, Pending: pending}
	if len(pending) > 0 {
		pairs := make([]string, 0, len(pending))
		for _, application := range pending {
			pairs = append(pairs, application.Username+":"+application.ConditionsMet)
		}
		joined := strings.Join(pairs, ",")
		detail.Applications = &joined
	}
	return detail, nil
}

// ListPendingApplications returns every pending application, oldest first.
func (s *Service) ListPendingApplications(ctx context.Context) ([]PendingApplicationView, error) {
	var rows []applicationRow
	err := s.db.WithContext(ctx).
		Table("applications").
		Select("applications.id, applications.box_id, applications.user_id, users.username, " +
			"applications.conditions_met, applications.status, applications.created_at, " +
			"boxes.condition1, boxes.condition2, boxes.condition3, boxes.condition4").
		Joins("JOIN users ON users.id = applications.user_id").
		Joins("JOIN boxes ON boxes.id = applications.box_id").
		Where("applications.status = ?", StatusPending).
		Order("applications.created_at").
		Order("applications.id").
		Scan(&rows).Error
	if err != nil {
		return nil, newServiceError(opListPendingApps, reasonQueryFailed, err)
	}

	views := make([]PendingApplicationView, 0, len(rows))
	for _, row := range rows {
		views = append(views, PendingApplicationView{
			ApplicationView: row.toView(),
			Condition1:      row.Condition1,
			Condition2:      row.Condition2,
			Condition3:      row.Condition3,
			Condition4:      row.Condition4,
		})
	}
	return views, nil
}

func (s *Service) enrich(ctx context.Context, box Box) (BoxView, []ApplicationView, error) {
	view := BoxView{
		ID:         box.ID,
		Condition1: box.Condition1,
		Condition2: box.Condition2,
		Condition3: box.Condition3,
		Condition4: box.Condition4,
	}

	var holders []holderRow
	err := s.db.WithContext(ctx).
		Table("box_holders").
		Select("users.username, box_holders.conditions_met").
		Joins("JOIN users ON users.id = box_holders.user_id").
		Where("box_holders.box_id = ? AND box_holders.status = ?", box.ID, StatusHolding).
		Order("box_holders.id DESC").
		Limit(1).
		Scan(&holders).Error
	if err != nil {
		return BoxView{}, nil, newServiceError(opListBoxes, reasonEnrichFailed, err)
	}
	if len(holders) == 1 {
		username := holders[0].Username
		conditions := holders[0].ConditionsMet
		view.CurrentHolder = &username
		view.HolderConditions = &conditions
	}

	var rows []applicationRow
	err = s.db.WithContext(ctx).
		Table("applications").
		Select("applications.id, applications.box_id, applications.user_id, users.username, " +
			"applications.conditions_met, applications.status, applications.created_at").
		Joins("JOIN users ON users.id = applications.user_id").
		Where("applications.box_id = ? AND applications.status = ?", box.ID, StatusPending).
		Order("applications.created_at").
		Order("applications.id").
		Scan(&rows).Error
	if err != nil {
		return BoxView{}, nil, newServiceError(opListBoxes, reasonEnrichFailed, err)
	}

	pending := make([]ApplicationView, 0, len(rows))
	usernames := make([]string, 0, len(rows))
	for _, row := range rows {
		pending = append(pending, row.toView())
		usernames = append(usernames, row.Username)
	}
	if len(usernames) > 0 {
		joined := strings.Join(usernames, ",")
		view.PendingApplications = &joined
	}
	return view, pending, nil
}

func (r applicationRow) toView() ApplicationView {
	return ApplicationView{
		ID:            r.ID,
		BoxID:         r.BoxID,
		UserID:        r.UserID,
		Username:      r.Username,
		ConditionsMet: r.ConditionsMet,
		Conditions:    DecodeConditions(r.ConditionsMet),
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
	}
}
