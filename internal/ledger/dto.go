// AngelaMos | 2026
// dto.go

package ledger

import "time"

type BalanceResponse struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	GenerationsLeft int    `json:"generationsLeft"`
}

type PurchaseRequest struct {
	OrderID   string
	PaymentID string
	UserKey   string
	Plan      string
	Credits   int
}

type PurchaseResult struct {
	CreditsAdded int
	Balance      int
	Replayed     bool
}

func ToBalanceResponse(r *Record) BalanceResponse {
	return BalanceResponse{
		Name:            r.Name,
		Email:           r.Email,
		GenerationsLeft: r.GenerationsLeft,
	}
}

type AdminRecordResponse struct {
	BalanceResponse
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func ToAdminRecordResponse(r *Record) AdminRecordResponse {
	return AdminRecordResponse{
		BalanceResponse: ToBalanceResponse(r),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}
