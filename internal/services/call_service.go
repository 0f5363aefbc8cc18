package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/callpilot/internal/cache"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/notify"
	"github.com/yoockh/callpilot/internal/providers/llm"
	pgrepo "github.com/yoockh/callpilot/internal/repositories/postgres"
	"github.com/yoockh/callpilot/internal/utils"
)

const callCacheTTL = 10 * time.Minute

type CallService interface {
	// ResolveForStream finds the call behind a telephony vendor call id.
	ResolveForStream(ctx context.Context, externalCallID string) (*models.Call, error)
	Get(ctx context.Context, companyID, callID string) (*models.Call, error)
	SetStatus(ctx context.Context, call *models.Call, status models.CallStatus) error
	Complete(ctx context.Context, call *models.Call, transcript string) error
	SaveAnalysis(ctx context.Context, callID string, analysis llm.AnalysisResult) error
	CanJoinCall(ctx context.Context, companyID, callID string) (bool, error)
}

type CallStatusEvent struct {
	CallID    string            `json:"call_id"`
	CompanyID string            `json:"company_id"`
	Status    models.CallStatus `json:"status"`
	Ts        time.Time         `json:"ts"`
}

type callService struct {
	calls    pgrepo.CallRepo
	cache    cache.Cache
	notifier Notifier
	log      *logrus.Logger
}

func NewCallService(calls pgrepo.CallRepo, c cache.Cache, notifier Notifier, log *logrus.Logger) CallService {
	if c == nil {
		c = cache.Noop{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &callService{calls: calls, cache: c, notifier: notifier, log: log}
}

func (s *callService) ResolveForStream(ctx context.Context, externalCallID string) (*models.Call, error) {
	const op = "CallService.ResolveForStream"

	if externalCallID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "external call id is required", nil)
	}

	key := cache.CallByExternalKey(externalCallID)
	var cached models.Call
	hit, err := s.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.log.WithError(err).WithField("external_call_id", externalCallID).Warn("call cache read failed")
	}
	if hit {
		return &cached, nil
	}

	call, err := s.calls.GetByExternalID(ctx, externalCallID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "call not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get call", err)
	}

	if err := s.cache.SetJSON(ctx, key, call, callCacheTTL); err != nil {
		s.log.WithError(err).WithField("external_call_id", externalCallID).Warn("call cache write failed")
	}
	return call, nil
}

func (s *callService) Get(ctx context.Context, companyID, callID string) (*models.Call, error) {
	const op = "CallService.Get"

	if companyID == "" || callID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "company_id and call_id are required", nil)
	}

	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "call not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get call", err)
	}
	// other tenants' calls do not exist for this caller
	if call.CompanyID != companyID {
		return nil, utils.E(utils.CodeNotFound, op, "call not found", utils.ErrNotFound)
	}
	return call, nil
}

func (s *callService) SetStatus(ctx context.Context, call *models.Call, status models.CallStatus) error {
	const op = "CallService.SetStatus"

	if call == nil || call.ID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "call is required", nil)
	}

	now := time.Now().UTC()
	if err := s.calls.UpdateStatus(ctx, call.ID, status, now); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "call not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to update call status", err)
	}
	call.Status = status
	s.invalidate(ctx, call)
	s.emitStatus(call, now)
	return nil
}

func (s *callService) Complete(ctx context.Context, call *models.Call, transcript string) error {
	const op = "CallService.Complete"

	if call == nil || call.ID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "call is required", nil)
	}

	now := time.Now().UTC()
	if err := s.calls.Complete(ctx, call.ID, transcript, now); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "call not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to complete call", err)
	}
	call.Status = models.CallStatusCompleted
	call.Transcript = transcript
	call.EndedAt = &now
	s.invalidate(ctx, call)
	s.emitStatus(call, now)
	return nil
}

func (s *callService) SaveAnalysis(ctx context.Context, callID string, analysis llm.AnalysisResult) error {
	const op = "CallService.SaveAnalysis"

	if callID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "call_id is required", nil)
	}
	b, err := json.Marshal(analysis)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode analysis", err)
	}
	if err := s.calls.SaveAnalysis(ctx, callID, b); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save analysis", err)
	}
	return nil
}

func (s *callService) CanJoinCall(ctx context.Context, companyID, callID string) (bool, error) {
	_, err := s.Get(ctx, companyID, callID)
	if err == nil {
		return true, nil
	}
	if utils.IsCode(err, utils.CodeNotFound) || utils.IsCode(err, utils.CodeInvalidArgument) {
		return false, nil
	}
	return false, err
}

func (s *callService) invalidate(ctx context.Context, call *models.Call) {
	if call.ExternalCallID == "" {
		return
	}
	if err := s.cache.Del(ctx, cache.CallByExternalKey(call.ExternalCallID)); err != nil {
		s.log.WithError(err).WithField("call_id", call.ID).Warn("call cache invalidate failed")
	}
}

func (s *callService) emitStatus(call *models.Call, at time.Time) {
	if s.notifier == nil {
		return
	}
	ev := CallStatusEvent{CallID: call.ID, CompanyID: call.CompanyID, Status: call.Status, Ts: at}
	s.notifier.EmitToCall(call.ID, notify.EventCallStatus, ev)
	s.notifier.EmitToCompany(call.CompanyID, notify.EventCallStatus, ev)
}
