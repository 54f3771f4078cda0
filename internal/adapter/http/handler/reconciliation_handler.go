package handler

import (
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// ReconciliationHandler lets operators run a sweep without waiting for the schedule.
type ReconciliationHandler struct {
	recon ports.ReconciliationService
}

func NewReconciliationHandler(recon ports.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{recon: recon}
}

type sweepResponse struct {
	Checked   int `json:"checked"`
	Resolved  int `json:"resolved"`
	Escalated int `json:"escalated"`
}

// Sweep handles POST /ops/reconciliation/sweep.
func (h *ReconciliationHandler) Sweep(c *gin.Context) {
	res, err := h.recon.Sweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sweepResponse{Checked: res.Checked, Resolved: res.Resolved, Escalated: res.Escalated})
}
