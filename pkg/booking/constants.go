package booking

import "time"

const (
	operationCreate         = "create"
	operationApprove        = "approve"
	operationReject         = "reject"
	operationExpire         = "expire"
	operationPay            = "pay"
	operationMarkComplete   = "mark_complete"
	operationConfirm        = "confirm"
	operationAutoRelease    = "auto_release"
	operationDispute        = "dispute"
	operationAdminCancel    = "admin_cancel"
	operationCancelByParent = "cancel_by_parent"
	operationResolveDispute = "resolve_dispute"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	systemActorID = "system"

	defaultApprovalDeadline   = 24 * time.Hour
	defaultConfirmationWindow = 48 * time.Hour
	pricePrecision            = 2
	maxReasonLength           = 500
)
