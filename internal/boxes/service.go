package boxes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the box service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	Notifier Notifier
}

// Service implements the box, holder and application workflow.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	logger   *zap.Logger
	notifier Notifier
}

// NewService validates dependencies and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		db:       cfg.Database,
		clock:    clock,
		logger:   logger,
		notifier: notifier,
	}, nil
}

// Apply queues a pending application. Held boxes and repeat applications are allowed.
func (s *Service) Apply(ctx context.Context, boxID, userID uint, conditions []string) (uint, error) {
	claimed := normalizeConditions(conditions)
	if len(claimed) == 0 {
		return 0, ErrNoConditions
	}
	encoded, err := encodeConditions(claimed)
	if err != nil {
		return 0, newServiceError(opApply, reasonEncodeFailed, err)
	}

	application := Application{
		BoxID:         boxID,
		UserID:        userID,
		ConditionsMet: encoded,
		Status:        StatusPending,
		CreatedAt:     s.clock().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireBox(tx, opApply, boxID); err != nil {
			return err
		}
		if err := tx.Create(&application).Error; err != nil {
			return newServiceError(opApply, reasonAppInsert, err)
		}
		return nil
	})
	if err != nil {
		s.logFailure(opApply, err, zap.Uint("box_id", boxID), zap.Uint("user_id", userID))
		return 0, err
	}

	s.logger.Info("application submitted",
		zap.Uint("application_id", application.ID),
		zap.Uint("box_id", boxID),
		zap.Uint("user_id", userID))
	s.publish(boxID, EventApplied)
	return application.ID, nil
}

// Hold seizes a box for the caller, replacing any existing holder.
func (s *Service) Hold(ctx context.Context, boxID, userID uint, conditions []string) error {
	return s.assign(ctx, opHold, EventHeld, boxID, userID, conditions, false)
}

// ForceAssign is the admin variant of Hold. The target user must exist.
func (s *Service) ForceAssign(ctx context.Context, boxID, userID uint, conditions []string) error {
	return s.assign(ctx, opForceAssign, EventAssigned, boxID, userID, conditions, true)
}

func (s *Service) assign(ctx context.Context, op string, kind EventKind, boxID, userID uint, conditions []string, checkUser bool) error {
	claimed := normalizeConditions(conditions)
	if len(claimed) == 0 {
		return ErrNoConditions
	}
	encoded, err := encodeConditions(claimed)
	if err != nil {
		return newServiceError(op, reasonEncodeFailed, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireBox(tx, op, boxID); err != nil {
			return err
		}
		if checkUser {
			if err := requireUser(tx, op, userID); err != nil {
				return err
			}
		}
		return s.replaceHolder(tx, op, boxID, userID, encoded)
	})
	if err != nil {
		s.logFailure(op, err, zap.Uint("box_id", boxID), zap.Uint("user_id", userID))
		return err
	}

	s.logger.Info("box holder replaced",
		zap.String("operation", op),
		zap.Uint("box_id", boxID),
		zap.Uint("user_id", userID))
	s.publish(boxID, kind)
	return nil
}

// Leave releases the caller's hold. It is a no-op when the caller is not the holder.
func (s *Service) Leave(ctx context.Context, boxID, userID uint) error {
	result := s.db.WithContext(ctx).
		Where("box_id = ? AND user_id = ? AND status = ?", boxID, userID, StatusHolding).
		Delete(&Holder{})
	if result.Error != nil {
		s.logFailure(opLeave, result.Error, zap.Uint("box_id", boxID), zap.Uint("user_id", userID))
		return newServiceError(opLeave, reasonHolderDelete, result.Error)
	}
	if result.RowsAffected > 0 {
		s.publish(boxID, EventLeft)
	}
	return nil
}

// Withdraw deletes the caller's pending applications for a box.
func (s *Service) Withdraw(ctx context.Context, boxID, userID uint) error {
	result := s.db.WithContext(ctx).
		Where("box_id = ? AND user_id = ? AND status = ?", boxID, userID, StatusPending).
		Delete(&Application{})
	if result.Error != nil {
		s.logFailure(opWithdraw, result.Error, zap.Uint("box_id", boxID), zap.Uint("user_id", userID))
		return newServiceError(opWithdraw, reasonAppDelete, result.Error)
	}
	if result.RowsAffected > 0 {
		s.publish(boxID, EventWithdrawn)
	}
	return nil
}

// AcceptApplication makes the applicant the box holder and removes the application.
// The three writes commit together.
func (s *Service) AcceptApplication(ctx context.Context, applicationID uint) (Application, error) {
	var application Application
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND status = ?", applicationID, StatusPending).Take(&application).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrApplicationNotFound
		}
		if err != nil {
			return newServiceError(opAccept, reasonAppLookup, err)
		}
		if err := s.replaceHolder(tx, opAccept, application.BoxID, application.UserID, application.ConditionsMet); err != nil {
			return err
		}
		if err := tx.Delete(&Application{}, application.ID).Error; err != nil {
			return newServiceError(opAccept, reasonAppDelete, err)
		}
		return nil
	})
	if err != nil {
		s.logFailure(opAccept, err, zap.Uint("application_id", applicationID))
		return Application{}, err
	}

	s.logger.Info("application accepted",
		zap.Uint("application_id", application.ID),
		zap.Uint("box_id", application.BoxID),
		zap.Uint("user_id", application.UserID))
	s.publish(application.BoxID, EventAccepted)
	return application, nil
}

// RejectApplication deletes an application regardless of its state. Unknown ids are ignored.
func (s *Service) RejectApplication(ctx context.Context, applicationID uint) error {
	var application Application
	found := true
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Take(&application, applicationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return newServiceError(opReject, reasonAppLookup, err)
		}
		if err := tx.Delete(&Application{}, applicationID).Error; err != nil {
			return newServiceError(opReject, reasonAppDelete, err)
		}
		return nil
	})
	if err != nil {
		s.logFailure(opReject, err, zap.Uint("application_id", applicationID))
		return err
	}
	if found {
		s.logger.Info("application rejected", zap.Uint("application_id", applicationID), zap.Uint("box_id", application.BoxID))
		s.publish(application.BoxID, EventRejected)
	}
	return nil
}

// RemoveHolder clears any holder of the box without an ownership check.
func (s *Service) RemoveHolder(ctx context.Context, boxID uint) error {
	result := s.db.WithContext(ctx).Where("box_id = ?", boxID).Delete(&Holder{})
	if result.Error != nil {
		s.logFailure(opRemoveHolder, result.Error, zap.Uint("box_id", boxID))
		return newServiceError(opRemoveHolder, reasonHolderDelete, result.Error)
	}
	if result.RowsAffected > 0 {
		s.publish(boxID, EventRemoved)
	}
	return nil
}

// UpdateConditions replaces all four condition slots of a box.
func (s *Service) UpdateConditions(ctx context.Context, boxID uint, condition1, condition2, condition3, condition4 string) error {
	slots := []string{condition1, condition2, condition3, condition4}
	for index := range slots {
		slots[index] = strings.TrimSpace(slots[index])
		if slots[index] == "" {
			return ErrBlankCondition
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return updateBox(tx, opUpdateConditions, boxID, slots)
	})
	if err != nil {
		s.logFailure(opUpdateConditions, err, zap.Uint("box_id", boxID))
		return err
	}
	s.publish(boxID, EventConditionsUpdated)
	return nil
}

// BulkImport parses text and applies every block in one transaction. Any parse problem rejects
// the batch with an *ImportError and no writes.
func (s *Service) BulkImport(ctx context.Context, text string) ([]ConditionChange, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyImport
	}
	changes, problems := ParseImport(text)
	if len(problems) > 0 {
		return nil, &ImportError{Problems: problems}
	}
	if len(changes) == 0 {
		return nil, &ImportError{Problems: []string{"No valid posts found"}}
	}
	return s.ApplyChanges(ctx, changes)
}

// ApplyChanges writes pre-parsed condition changes atomically, resetting slot four.
func (s *Service) ApplyChanges(ctx context.Context, changes []ConditionChange) ([]ConditionChange, error) {
	if len(changes) == 0 {
		return nil, &ImportError{Problems: []string{"Changes array is required"}}
	}
	if problems := ValidateChanges(changes); len(problems) > 0 {
		return nil, &ImportError{Problems: problems}
	}

	applied := make([]ConditionChange, 0, len(changes))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, change := range changes {
			slots := []string{
				strings.TrimSpace(change.Condition1),
				strings.TrimSpace(change.Condition2),
				strings.TrimSpace(change.Condition3),
				NoneOfTheAbove,
			}
			if err := updateBox(tx, opBulkImport, uint(change.PostID), slots); err != nil {
				return err
			}
			applied = append(applied, ConditionChange{
				PostID:     change.PostID,
				Condition1: slots[0],
				Condition2: slots[1],
				Condition3: slots[2],
			})
		}
		return nil
	})
	if err != nil {
		s.logFailure(opBulkImport, err, zap.Int("changes", len(changes)))
		return nil, err
	}

	s.logger.Info("box conditions imported", zap.Int("changes", len(applied)))
	for _, change := range applied {
		s.publish(uint(change.PostID), EventConditionsUpdated)
	}
	return applied, nil
}

func (s *Service) replaceHolder(tx *gorm.DB, op string, boxID, userID uint, encodedConditions string) error {
	if err := tx.Where("box_id = ?", boxID).Delete(&Holder{}).Error; err != nil {
		return newServiceError(op, reasonHolderDelete, err)
	}
	holder := Holder{
		BoxID:         boxID,
		UserID:        userID,
		ConditionsMet: encodedConditions,
		Status:        StatusHolding,
		CreatedAt:     s.clock().UTC(),
	}
	if err := tx.Create(&holder).Error; err != nil {
		return newServiceError(op, reasonHolderInsert, err)
	}
	return nil
}

func updateBox(tx *gorm.DB, op string, boxID uint, slots []string) error {
	result := tx.Model(&Box{}).Where("id = ?", boxID).Updates(map[string]any{
		"condition1": slots[0],
		"condition2": slots[1],
		"condition3": slots[2],
		"condition4": slots[3],
	})
	if result.Error != nil {
		return newServiceError(op, reasonBoxUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrBoxNotFound
	}
	return nil
}

func requireBox(tx *gorm.DB, op string, boxID uint) error {
	var count int64
	if err := tx.Model(&Box{}).Where("id = ?", boxID).Count(&count).Error; err != nil {
		return newServiceError(op, reasonBoxLookup, err)
	}
	if count == 0 {
		return ErrBoxNotFound
	}
	return nil
}

func requireUser(tx *gorm.DB, op string, userID uint) error {
	var count int64
	if err := tx.Model(&users.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return newServiceError(op, reasonUserLookup, err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) publish(boxID uint, kind EventKind) {
	s.notifier.Publish(BoxEvent{BoxID: boxID, Kind: kind, At: s.clock().UTC()})
}

func (s *Service) logFailure(operation string, err error, fields ...zap.Field) {
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		return
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("code", serviceErr.Code()),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("boxes service error", attrs...)
}
