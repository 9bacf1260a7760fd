package boxes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBoxNotFound         = errors.New("boxes: box not found")
	ErrApplicationNotFound = errors.New("boxes: application not found")
	ErrUserNotFound        = errors.New("boxes: user not found")
	ErrNoConditions        = errors.New("boxes: at least one condition must be selected")
	ErrBlankCondition      = errors.New("boxes: all four conditions must be provided")
	ErrEmptyImport         = errors.New("boxes: import text is empty")

	errMissingDatabase = errors.New("database handle is required")
)

// ServiceError carries a dotted operation code for store failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "boxes.service.new"
	opApply            = "boxes.apply"
	opHold             = "boxes.hold"
	opLeave            = "boxes.leave"
	opWithdraw         = "boxes.withdraw"
	opAccept           = "boxes.accept_application"
	opReject           = "boxes.reject_application"
	opForceAssign      = "boxes.force_assign"
	opRemoveHolder     = "boxes.remove_holder"
	opUpdateConditions = "boxes.update_conditions"
	opBulkImport       = "boxes.bulk_import"
	opListBoxes        = "boxes.list_boxes"
	opGetBox           = "boxes.get_box"
	opListPendingApps  = "boxes.list_pending_applications"
	reasonQueryFailed  = "query_failed"
	reasonEncodeFailed = "conditions_encode_failed"
	reasonHolderDelete = "holder_delete_failed"
	reasonHolderInsert = "holder_insert_failed"
	reasonAppDelete    = "application_delete_failed"
	reasonAppInsert    = "application_insert_failed"
	reasonBoxUpdate    = "box_update_failed"
	reasonEnrichFailed = "enrichment_failed"
	reasonMissingDB    = "missing_database"
	reasonUserLookup   = "user_lookup_failed"
	reasonBoxLookup    = "box_lookup_failed"
	reasonAppLookup    = "application_lookup_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ImportError lists every problem found in a bulk import text. Nothing is written when it is returned.
type ImportError struct {
	Problems []string
}

func (e *ImportError) Error() string {
	return "boxes: invalid import: " + strings.Join(e.Problems, "; ")
}
