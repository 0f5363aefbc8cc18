package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/notify"
	"github.com/yoockh/callpilot/internal/providers/llm"
	pgrepo "github.com/yoockh/callpilot/internal/repositories/postgres"
	"github.com/yoockh/callpilot/internal/utils"
	"gorm.io/datatypes"
)

const maxExamples = 3

// SuggestionGenerator is the slice of *llm.Manager the pipeline needs.
type SuggestionGenerator interface {
	Generate(ctx context.Context, req llm.SuggestionRequest, preferred string) llm.Result
	GenerateBalanced(ctx context.Context, req llm.SuggestionRequest) llm.Result
}

type SuggestionService interface {
	GenerateAndDeliver(ctx context.Context, job models.SuggestionJob) (*models.Suggestion, error)
	MarkUsed(ctx context.Context, companyID, operatorID, suggestionID string) (*models.Suggestion, error)
	ListByCall(ctx context.Context, companyID, callID string, limit int) ([]models.Suggestion, error)
	ListByChat(ctx context.Context, companyID, chatID string, limit int) ([]models.Suggestion, error)
}

type SuggestionOptions struct {
	// Balanced uses round robin when the job names no preferred provider.
	Balanced bool
	Language string
	// StoreTimeout bounds the insert, which runs even after the job
	// deadline has passed. Defaults to 5s.
	StoreTimeout time.Duration
}

const defaultStoreTimeout = 5 * time.Second

// JobTimeout is the deadline a suggestion job needs so every configured
// provider gets one full attempt, plus one slot for the embedding call and
// the store budget.
func JobTimeout(providers int, perAttempt, store time.Duration) time.Duration {
	if providers < 1 {
		providers = 1
	}
	if store <= 0 {
		store = defaultStoreTimeout
	}
	return time.Duration(providers+1)*perAttempt + store
}

type suggestionService struct {
	suggestions pgrepo.SuggestionRepo
	gen         SuggestionGenerator
	embedder    llm.Embedder
	notifier    Notifier
	opts        SuggestionOptions
	log         *logrus.Logger
}

// NewSuggestionService accepts a nil embedder; similar-example lookup is
// then skipped.
func NewSuggestionService(
	suggestions pgrepo.SuggestionRepo,
	gen SuggestionGenerator,
	embedder llm.Embedder,
	notifier Notifier,
	opts SuggestionOptions,
	log *logrus.Logger,
) SuggestionService {
	if log == nil {
		log = logrus.New()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	return &suggestionService{
		suggestions: suggestions,
		gen:         gen,
		embedder:    embedder,
		notifier:    notifier,
		opts:        opts,
		log:         log,
	}
}

func validateJob(job models.SuggestionJob) string {
	switch {
	case job.Transcript == "":
		return "transcript is required"
	case job.CompanyID == "" || job.OperatorID == "":
		return "company_id and operator_id are required"
	case job.Channel == models.ChannelCall && job.CallID == "":
		return "call_id is required for call suggestions"
	case job.Channel == models.ChannelChat && job.ChatID == "":
		return "chat_id is required for chat suggestions"
	case job.Channel != models.ChannelCall && job.Channel != models.ChannelChat:
		return "channel must be call or chat"
	}
	return ""
}

// GenerateAndDeliver asks the provider manager for a suggestion, stores it
// and pushes it to the operator. Generation never fails; a storage failure
// is returned and nothing is pushed.
func (s *suggestionService) GenerateAndDeliver(ctx context.Context, job models.SuggestionJob) (*models.Suggestion, error) {
	const op = "SuggestionService.GenerateAndDeliver"

	if msg := validateJob(job); msg != "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, msg, nil)
	}

	log := s.log.WithFields(logrus.Fields{
		"channel":   job.Channel,
		"call_id":   job.CallID,
		"chat_id":   job.ChatID,
		"stream_id": job.StreamID,
	})

	req := llm.SuggestionRequest{
		Transcript: job.Transcript,
		Context:    job.Context,
		Channel:    job.Channel,
		Language:   s.opts.Language,
	}

	embedding := s.embed(ctx, job.Transcript, log)
	if len(embedding) > 0 {
		similar, err := s.suggestions.SimilarUsed(ctx, job.CompanyID, embedding, maxExamples)
		if err != nil {
			log.WithError(err).Warn("similar suggestion lookup failed")
		}
		for _, sg := range similar {
			req.Examples = append(req.Examples, sg.Content)
		}
	}

	var res llm.Result
	if job.Preferred == "" && s.opts.Balanced {
		res = s.gen.GenerateBalanced(ctx, req)
	} else {
		res = s.gen.Generate(ctx, req, job.Preferred)
	}
	if res.IsMock() {
		log.WithField("attempts", len(res.Attempts)).Warn("all providers failed, using mock suggestion")
	}

	meta, _ := json.Marshal(map[string]any{
		"attempts":  res.Attempts,
		"stream_id": job.StreamID,
		"examples":  len(req.Examples),
	})

	now := time.Now().UTC()
	row := &models.Suggestion{
		ID:           uuid.NewString(),
		CompanyID:    job.CompanyID,
		OperatorID:   job.OperatorID,
		Content:      res.Content,
		Confidence:   res.Confidence,
		Provider:     res.Provider,
		TriggerText:  job.Transcript,
		ContextLines: job.Context,
		Metadata:     datatypes.JSON(meta),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if job.CallID != "" {
		row.CallID = &job.CallID
	}
	if job.ChatID != "" {
		row.ChatID = &job.ChatID
	}
	if len(embedding) > 0 {
		v := pgvector.NewVector(embedding)
		row.TriggerEmbedding = &v
	}

	// a mock or late result still lands when the job deadline is spent
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()
	if err := s.suggestions.Insert(storeCtx, row); err != nil {
		log.WithError(err).Error("failed to persist suggestion")
		return nil, utils.E(utils.CodeInternal, op, "failed to persist suggestion", err)
	}

	s.push(row)
	log.WithFields(logrus.Fields{
		"suggestion_id": row.ID,
		"provider":      row.Provider,
	}).Info("suggestion delivered")
	return row, nil
}

func (s *suggestionService) embed(ctx context.Context, text string, log *logrus.Entry) []float32 {
	if s.embedder == nil {
		return nil
	}
	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		log.WithError(err).Warn("trigger embedding failed")
		return nil
	}
	return v
}

func (s *suggestionService) push(row *models.Suggestion) {
	if s.notifier == nil {
		return
	}
	s.notifier.EmitToUser(row.OperatorID, notify.EventSuggestion, row)
	if row.CallID != nil {
		s.notifier.EmitToCall(*row.CallID, notify.EventSuggestion, row)
	}
	if row.ChatID != nil {
		s.notifier.EmitToChat(*row.ChatID, notify.EventSuggestion, row)
	}
}

// MarkUsed flags a suggestion the operator acted on. Marking twice returns
// the row unchanged.
func (s *suggestionService) MarkUsed(ctx context.Context, companyID, operatorID, suggestionID string) (*models.Suggestion, error) {
	const op = "SuggestionService.MarkUsed"

	if companyID == "" || operatorID == "" || suggestionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "company_id, operator_id, and suggestion_id are required", nil)
	}

	row, err := s.suggestions.GetByID(ctx, suggestionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "suggestion not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get suggestion", err)
	}
	if row.CompanyID != companyID {
		return nil, utils.E(utils.CodeNotFound, op, "suggestion not found", utils.ErrNotFound)
	}
	if row.OperatorID != operatorID {
		return nil, utils.E(utils.CodeForbidden, op, "suggestion belongs to another operator", nil)
	}
	if row.Used {
		return row, nil
	}

	now := time.Now().UTC()
	updated, err := s.suggestions.MarkUsed(ctx, suggestionID, operatorID, now)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to mark suggestion used", err)
	}
	if updated {
		row.Used = true
		row.UsedAt = &now
		row.UpdatedAt = now
		return row, nil
	}

	// lost a race with another request; return what is stored
	return s.reload(ctx, op, suggestionID)
}

func (s *suggestionService) reload(ctx context.Context, op, id string) (*models.Suggestion, error) {
	row, err := s.suggestions.GetByID(ctx, id)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get suggestion", err)
	}
	return row, nil
}

func (s *suggestionService) ListByCall(ctx context.Context, companyID, callID string, limit int) ([]models.Suggestion, error) {
	const op = "SuggestionService.ListByCall"

	if companyID == "" || callID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "company_id and call_id are required", nil)
	}
	rows, err := s.suggestions.ListByCall(ctx, companyID, callID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list suggestions", err)
	}
	return rows, nil
}

func (s *suggestionService) ListByChat(ctx context.Context, companyID, chatID string, limit int) ([]models.Suggestion, error) {
	const op = "SuggestionService.ListByChat"

	if companyID == "" || chatID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "company_id and chat_id are required", nil)
	}
	rows, err := s.suggestions.ListByChat(ctx, companyID, chatID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list suggestions", err)
	}
	return rows, nil
}
