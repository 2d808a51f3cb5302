package wallet

const (
	operationLock           = "lock_funds"
	operationRelease        = "release_funds"
	operationRefund         = "refund"
	operationDeposit        = "deposit"
	operationApproveDeposit = "approve_deposit"
	operationRejectDeposit  = "reject_deposit"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService = "service"
	errorSubjectWallet    = "wallet"
	errorSubjectPayer     = "payer"
	errorSubjectPayee     = "payee"
	errorSubjectDeposit   = "deposit"
	errorCodeGuard        = "balance_guard"
	errorCodeStatus       = "status"

	defaultCurrency         = "KES"
	amountPrecision         = 2
	commissionRatePrecision = 4
	defaultListLimit        = 50
	maxListLimit            = 200
)
