package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/apierr"
	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/payment"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if apiErr, ok := apierr.As(err); ok {
		writeJSON(w, apiErr.Status(), map[string]string{"error": apiErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

type planView struct {
	PlanID            int64  `json:"planId"`
	Name              string `json:"name"`
	RequestsPerSecond int32  `json:"requestsPerSecond"`
	RequestsPerDay    int32  `json:"requestsPerDay"`
	Price             string `json:"price"`
}

func (s *Surface) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.payments.ListPlans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, planView{p.ID, p.Name, p.RequestsPerSecond, p.RequestsPerDay, p.Price})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"availablePlans": views})
}

type initiateRequestBody struct {
	APIKey       string `json:"apiKey"`
	TargetPlanID int64  `json:"targetPlanId"`
	TokenID      string `json:"tokenId"`   // base64
	TokenType    string `json:"tokenType"` // base64
}

func (s *Surface) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var body initiateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	tokenID, err := base64.StdEncoding.DecodeString(body.TokenID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tokenId must be base64"})
		return
	}
	tokenType, err := base64.StdEncoding.DecodeString(body.TokenType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tokenType must be base64"})
		return
	}

	result, err := s.payments.Initiate(r.Context(), payment.InitiateRequest{
		APIKey: body.APIKey, TargetPlanID: body.TargetPlanID, TokenID: tokenID, TokenType: tokenType,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"sessionId":      result.SessionID,
		"paymentAddress": result.PaymentAddress,
		"amountRequired": result.AmountRequired,
		"expiresAt":      result.ExpiresAt,
	}
	if result.APIKey != "" {
		resp["apiKey"] = result.APIKey
	}
	writeJSON(w, http.StatusOK, resp)
}

type completeRequestBody struct {
	SessionID              string          `json:"sessionId"`
	Salt                   string          `json:"salt"` // base64, validated shape only, not consumed further
	TransferCommitmentJSON json.RawMessage `json:"transferCommitmentJson"`
	SourceTokenJSON        json.RawMessage `json:"sourceTokenJson"`
}

func (s *Surface) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	var salt []byte
	if body.Salt != "" {
		var err error
		salt, err = base64.StdEncoding.DecodeString(body.Salt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "salt must be base64"})
			return
		}
	}

	result, err := s.payments.Complete(r.Context(), payment.CompleteRequest{
		SessionID: body.SessionID, Salt: salt,
		TransferCommitmentJSON: body.TransferCommitmentJSON, SourceTokenJSON: body.SourceTokenJSON,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{"success": result.Success, "message": result.Message}
	if result.Success {
		resp["newPlanId"] = result.NewPlanID
		resp["apiKey"] = result.APIKey
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Surface) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.payments.GetPaymentStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id": status.ID, "status": status.Status, "amountRequired": status.AmountRequired,
		"createdAt": status.CreatedAt, "completedAt": status.CompletedAt, "expiresAt": status.ExpiresAt,
	})
}

func (s *Surface) handleGetKey(w http.ResponseWriter, r *http.Request) {
	apiKey := chi.URLParam(r, "apiKey")
	details, err := s.payments.GetKeyDetails(r.Context(), apiKey)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"status": details.Status, "expiresAt": details.ExpiresAt}
	if details.PricingPlan != nil {
		resp["pricingPlan"] = planView{
			details.PricingPlan.ID, details.PricingPlan.Name,
			details.PricingPlan.RequestsPerSecond, details.PricingPlan.RequestsPerDay, details.PricingPlan.Price,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
