package ledger

const (
	operationGrant      = "grant"
	operationDeduct     = "deduct"
	operationSettle     = "settle"
	operationMigrate    = "migrate"
	operationSetting    = "setting"
	operationTrial      = "trial"
	operationAffordable = "affordable"

	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusRejected  = "rejected"
	operationStatusDuplicate = "duplicate"

	errorSubjectService = "service"
	errorSubjectRequest = "request"

	defaultTopUpDescription     = "Credit top-up"
	defaultSettlementProvider   = "Stripe"
	settlementDescriptionFormat = "%s Purchase: %s"
	legacyMigrationDescription  = "Legacy balance migration"
	paymentStatusPaid           = "paid"

	defaultLowBalanceThreshold int64 = 10
	defaultUnknownSettingCost  int64 = 1
	secondsPerDay              int64 = 24 * 60 * 60
	maxDescriptionLength             = 512
)
