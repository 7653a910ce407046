package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"voice-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ConverseUseCase runs one text turn against a stored agent.
type ConverseUseCase interface {
	Converse(ctx context.Context, in usecase.ConverseInput) (usecase.ConverseOutput, error)
}

type Handler struct {
	uc  ConverseUseCase
	log *slog.Logger
}

type converseRequest struct {
	Agent     string `json:"agent"`
	Owner     string `json:"owner"`
	Utterance string `json:"utterance"`
	ColdStart bool   `json:"coldStart"`
}

type converseResponse struct {
	Reply      string   `json:"reply"`
	Capability string   `json:"capability,omitempty"`
	Spoken     []string `json:"spoken,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(uc ConverseUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, log: slog.Default()}, nil
}

// Handle serves POST /converse.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlation_id", correlationID)

	var in converseRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		log.Warn("invalid request body", "err", err)
		return respond(http.StatusBadRequest, correlationID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"}), nil
	}
	if strings.TrimSpace(in.Agent) == "" || strings.TrimSpace(in.Owner) == "" {
		return respond(http.StatusBadRequest, correlationID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "missing_agent"}), nil
	}

	out, err := h.uc.Converse(ctx, usecase.ConverseInput{
		Agent:     in.Agent,
		Owner:     in.Owner,
		Utterance: in.Utterance,
		ColdStart: in.ColdStart,
	})
	if err != nil {
		status, body := mapError(err)
		if status >= http.StatusInternalServerError {
			log.Error("converse failed", "agent", in.Agent, "err", err)
		} else {
			log.Warn("converse rejected", "agent", in.Agent, "code", body.Error, "reason", body.Reason)
		}
		return respond(status, correlationID, body), nil
	}

	log.Info("converse", "agent", in.Agent, "capability", out.Capability, "cold_start", in.ColdStart)
	return respond(http.StatusOK, correlationID, converseResponse{
		Reply:      out.Reply,
		Capability: out.Capability,
		Spoken:     out.Spoken,
	}), nil
}

func mapError(err error) (int, errorResponse) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	body := errorResponse{Error: string(ue.Code), Reason: ue.Reason}
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, body
	case usecase.ErrorNotFound:
		return http.StatusNotFound, body
	case usecase.ErrorDuplicateName:
		return http.StatusConflict, body
	case usecase.ErrorGenerationFailed:
		if strings.HasSuffix(ue.Reason, "_rate_limited") {
			return http.StatusTooManyRequests, body
		}
		if strings.HasSuffix(ue.Reason, "_timeout") {
			return http.StatusGatewayTimeout, body
		}
		return http.StatusBadGateway, body
	case usecase.ErrorCapabilityFailed:
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: ue.Reason}
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respond(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	data, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(data),
	}
}
