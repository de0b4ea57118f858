// Package creditv1 defines the credit.v1.CreditService wire contract.
// Messages travel as JSON through the codec registered in codec.go.
package creditv1

type BalanceRequest struct {
	UserId string `json:"user_id"`
}

func (request *BalanceRequest) GetUserId() string {
	if request == nil {
		return ""
	}
	return request.UserId
}

type BalanceResponse struct {
	CurrentCredits   int64 `json:"current_credits"`
	TotalPurchased   int64 `json:"total_purchased"`
	LastTopupUnixUtc int64 `json:"last_topup_unix_utc,omitempty"`
	IsTrial          bool  `json:"is_trial"`
	IsLowBalance     bool  `json:"is_low_balance"`
	ItemFetchCost    int64 `json:"item_fetch_cost"`
	Research2Cost    int64 `json:"research2_cost"`
}

type GrantRequest struct {
	UserId         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description,omitempty"`
	ExpiresInDays  int32  `json:"expires_in_days,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	MetadataJson   string `json:"metadata_json,omitempty"`
}

func (request *GrantRequest) GetUserId() string {
	if request == nil {
		return ""
	}
	return request.UserId
}

func (request *GrantRequest) GetAmount() int64 {
	if request == nil {
		return 0
	}
	return request.Amount
}

type GrantResponse struct {
	Batch   *Batch           `json:"batch"`
	Balance *BalanceResponse `json:"balance"`
}

type DeductRequest struct {
	UserId      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (request *DeductRequest) GetUserId() string {
	if request == nil {
		return ""
	}
	return request.UserId
}

func (request *DeductRequest) GetAmount() int64 {
	if request == nil {
		return 0
	}
	return request.Amount
}

// DeductResponse reports insufficient funds as Applied=false rather than as an RPC error.
type DeductResponse struct {
	Applied   bool  `json:"applied"`
	Required  int64 `json:"required"`
	Available int64 `json:"available"`
}

type CheckAffordableRequest struct {
	UserId  string `json:"user_id"`
	Setting string `json:"setting"`
}

type CheckAffordableResponse struct {
	Cost       int64 `json:"cost"`
	Available  int64 `json:"available"`
	Affordable bool  `json:"affordable"`
	Bypassed   bool  `json:"bypassed"`
}

type SettleRequest struct {
	SessionId     string `json:"session_id"`
	UserId        string `json:"user_id"`
	Credits       int64  `json:"credits"`
	PaymentStatus string `json:"payment_status"`
	Provider      string `json:"provider,omitempty"`
	MetadataJson  string `json:"metadata_json,omitempty"`
}

type SettleResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Credits     int64  `json:"credits,omitempty"`
	Description string `json:"description,omitempty"`
}

type ListTransactionsRequest struct {
	UserId        string `json:"user_id"`
	BeforeUnixUtc int64  `json:"before_unix_utc,omitempty"`
	Limit         int32  `json:"limit,omitempty"`
}

func (request *ListTransactionsRequest) GetLimit() int32 {
	if request == nil {
		return 0
	}
	return request.Limit
}

type Transaction struct {
	Id             string `json:"id"`
	UserId         string `json:"user_id"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	MetadataJson   string `json:"metadata_json,omitempty"`
	CreatedUnixUtc int64  `json:"created_unix_utc"`
}

type ListTransactionsResponse struct {
	Transactions []*Transaction `json:"transactions"`
}

type ListBatchesRequest struct {
	UserId string `json:"user_id"`
}

type Batch struct {
	Id               string `json:"id"`
	UserId           string `json:"user_id"`
	Amount           int64  `json:"amount"`
	RemainingAmount  int64  `json:"remaining_amount"`
	ExpiresAtUnixUtc int64  `json:"expires_at_unix_utc,omitempty"`
	Source           string `json:"source"`
	CreatedUnixUtc   int64  `json:"created_unix_utc"`
	Expired          bool   `json:"expired"`
}

type ListBatchesResponse struct {
	Batches []*Batch `json:"batches"`
}

type GetSettingsRequest struct{}

type Setting struct {
	Name           string `json:"name"`
	Value          int64  `json:"value"`
	Description    string `json:"description,omitempty"`
	UpdatedBy      string `json:"updated_by,omitempty"`
	UpdatedUnixUtc int64  `json:"updated_unix_utc,omitempty"`
}

type GetSettingsResponse struct {
	Settings []*Setting `json:"settings"`
}

type UpdateSettingRequest struct {
	Name      string `json:"name"`
	Value     int64  `json:"value"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

type UpdateSettingResponse struct {
	Setting *Setting `json:"setting"`
}
