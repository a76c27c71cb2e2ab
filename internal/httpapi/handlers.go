package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/call"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/sequencer"
)

type streamRequest struct {
	Sequence  *int    `json:"sequence" binding:"required,min=0"`
	Data      string  `json:"data" binding:"required"`
	Timestamp float64 `json:"timestamp" binding:"required,gt=0"`
}

type packetResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	CallID           string `json:"call_id"`
	Sequence         int    `json:"sequence"`
	Duplicate        bool   `json:"duplicate"`
	TotalReceived    *int   `json:"total_received,omitempty"`
	MissingSequences *[]int `json:"missing_sequences,omitempty"` // nil only for duplicates
}

type completeRequest struct {
	TotalPackets *int `json:"total_packets" binding:"required,gt=0"`
}

type completeResponse struct {
	Status               string `json:"status"`
	Message              string `json:"message"`
	CallID               string `json:"call_id"`
	ExpectedTotalPackets int    `json:"expected_total_packets"`
}

type callResponse struct {
	CallID               string  `json:"call_id"`
	State                string  `json:"state"`
	TotalPacketsReceived int     `json:"total_packets_received"`
	ExpectedTotalPackets *int    `json:"expected_total_packets"`
	ExpectedNextSequence int     `json:"expected_next_sequence"`
	MissingSequences     []int   `json:"missing_sequences"`
	Transcription        *string `json:"transcription"`
	Sentiment            *string `json:"sentiment"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

func toCallResponse(c *models.Call) callResponse {
	missing := []int(c.MissingSequences)
	if missing == nil {
		missing = []int{}
	}
	return callResponse{
		CallID:               c.CallID,
		State:                string(c.State),
		TotalPacketsReceived: c.TotalPacketsReceived,
		ExpectedTotalPackets: c.ExpectedTotalPackets,
		ExpectedNextSequence: c.ExpectedNextSequence,
		MissingSequences:     missing,
		Transcription:        c.Transcription,
		Sentiment:            c.Sentiment,
		CreatedAt:            c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": ServiceName,
		"status":  "running",
		"version": h.version,
	})
}

func (h *handlers) handleStream(c *gin.Context) {
	callID := c.Param("call_id")
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, err)
		return
	}

	res, err := h.ingester.Ingest(c.Request.Context(), sequencer.PacketInput{
		CallID:    callID,
		Sequence:  *req.Sequence,
		Data:      req.Data,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		h.writeError(c, err, "call_id", callID, "sequence", *req.Sequence)
		return
	}

	resp := packetResponse{
		Status:   string(res.Status),
		CallID:   callID,
		Sequence: res.Sequence,
	}
	if res.Status == sequencer.StatusDuplicate {
		resp.Message = "Packet already received"
		resp.Duplicate = true
	} else {
		resp.Message = "Packet accepted"
		total := res.TotalReceived
		resp.TotalReceived = &total
		missing := res.MissingSequences
		if missing == nil {
			missing = []int{}
		}
		resp.MissingSequences = &missing
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *handlers) handleComplete(c *gin.Context) {
	callID := c.Param("call_id")
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, err)
		return
	}

	if err := h.completer.Complete(c.Request.Context(), callID, *req.TotalPackets); err != nil {
		h.writeError(c, err, "call_id", callID)
		return
	}

	c.JSON(http.StatusAccepted, completeResponse{
		Status:               "accepted",
		Message:              "Call completion signal received",
		CallID:               callID,
		ExpectedTotalPackets: *req.TotalPackets,
	})
}

func (h *handlers) handleGetCall(c *gin.Context) {
	callID := c.Param("call_id")
	rec, err := call.Get(c.Request.Context(), h.db, callID)
	if err != nil {
		h.writeError(c, err, "call_id", callID)
		return
	}
	c.JSON(http.StatusOK, toCallResponse(rec))
}

func (h *handlers) handleListCalls(c *gin.Context) {
	filters := call.Filters{State: models.CallState(c.Query("state"))}
	if filters.State != "" {
		if _, ok := call.ValidTransitions[filters.State]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "unknown state " + strconv.Quote(string(filters.State))})
			return
		}
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be a non-negative integer"})
			return
		}
		filters.Limit = n
	}

	calls, err := call.List(c.Request.Context(), h.db, filters)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]callResponse, len(calls))
	for i := range calls {
		out[i] = toCallResponse(&calls[i])
	}
	c.JSON(http.StatusOK, gin.H{"calls": out, "count": len(out)})
}
