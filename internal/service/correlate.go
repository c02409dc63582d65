package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"StatusBridge/config"
	"StatusBridge/internal/repo"
	"StatusBridge/internal/webhook"
	"StatusBridge/pkg/logger"
	"StatusBridge/pkg/metrics"
	"StatusBridge/storage/database"
)

// CorrelationOutcome 单条状态事件的关联结果
type CorrelationOutcome string

const (
	OutcomeMatched        CorrelationOutcome = "matched"         // 成功绑定 provider ID
	OutcomeAlreadyMatched CorrelationOutcome = "already-matched" // provider ID 已绑定过，无需处理
	OutcomeUnmatched      CorrelationOutcome = "unmatched"       // 窗口内无候选，留给对账
	OutcomeUncorrelatable CorrelationOutcome = "uncorrelatable"  // 没有可用的关联 token
)

// CorrelationResult 关联结果与命中的消息
type CorrelationResult struct {
	Outcome   CorrelationOutcome
	MessageID int64
	TempID    string
	Phone     string
}

// CorrelationService 把 provider 的状态事件绑定到本地消息
// 唯一写操作是 ClaimProviderID（条件更新），状态转移交给 LifecycleService。
type CorrelationService struct {
	messages repo.MessageStore
	window   time.Duration
	log      *zap.Logger
}

var (
	correlationService *CorrelationService
	correlationOnce    sync.Once
)

func Correlation() *CorrelationService {
	correlationOnce.Do(func() {
		correlationService = NewCorrelationService(
			repo.NewPostgresMessageStore(database.DB()),
			config.Cfg.CorrelationWindow(),
			logger.Logger,
		)
	})
	return correlationService
}

func NewCorrelationService(messages repo.MessageStore, window time.Duration, log *zap.Logger) *CorrelationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CorrelationService{
		messages: messages,
		window:   window,
		log:      log,
	}
}

// Correlate 处理一条状态事件的关联
// providerID: provider 分配的消息 ID（wamid）
// eventTime: 事件时间戳，对称窗口以它为中心
// callbackData: biz_opaque_callback_data 原文
// dryRun: 只计算不落库，对账的试跑模式
func (s *CorrelationService) Correlate(ctx context.Context, providerID string, eventTime time.Time, callbackData string, dryRun bool) (CorrelationResult, error) {
	// provider ID 已经绑定过的事件无需重复关联
	if existing, err := s.messages.FindByProviderID(ctx, providerID); err != nil {
		return CorrelationResult{Outcome: OutcomeUnmatched}, err
	} else if existing != nil {
		return CorrelationResult{
			Outcome:   OutcomeAlreadyMatched,
			MessageID: existing.ID,
			TempID:    existing.TempID,
			Phone:     existing.Phone,
		}, nil
	}

	phone, ok := webhook.DecodeCallbackData(callbackData)
	if !ok {
		metrics.Add(ctx, metrics.EventsUncorrelatable)
		s.log.Info("Status event carries no usable correlation token",
			zap.String("provider_id", providerID),
		)
		return CorrelationResult{Outcome: OutcomeUncorrelatable}, nil
	}

	from := eventTime.Add(-s.window)
	to := eventTime.Add(s.window)

	// 并发认领失败时重查一次：窗口内可能还有下一个候选
	for attempt := 0; attempt < 2; attempt++ {
		candidate, err := s.messages.FindCandidate(ctx, phone, from, to)
		if err != nil {
			return CorrelationResult{Outcome: OutcomeUnmatched, Phone: phone}, err
		}
		if candidate == nil {
			break
		}

		if dryRun {
			return CorrelationResult{
				Outcome:   OutcomeMatched,
				MessageID: candidate.ID,
				TempID:    candidate.TempID,
				Phone:     phone,
			}, nil
		}

		claimed, err := s.messages.ClaimProviderID(ctx, candidate.ID, providerID)
		if err != nil {
			return CorrelationResult{Outcome: OutcomeUnmatched, Phone: phone}, err
		}
		if claimed {
			metrics.Add(ctx, metrics.EventsCorrelated)
			s.log.Info("Status event correlated",
				zap.String("provider_id", providerID),
				zap.Int64("message_id", candidate.ID),
				zap.String("temp_id", candidate.TempID),
			)
			return CorrelationResult{
				Outcome:   OutcomeMatched,
				MessageID: candidate.ID,
				TempID:    candidate.TempID,
				Phone:     phone,
			}, nil
		}
		// 候选被并发事件抢走，provider_id IS NULL 谓词会把它排除掉
	}

	metrics.Add(ctx, metrics.EventsUnmatched)
	s.log.Info("No tracked message matched within correlation window",
		zap.String("provider_id", providerID),
		zap.Time("event_time", eventTime),
	)
	return CorrelationResult{Outcome: OutcomeUnmatched, Phone: phone}, nil
}

// Window 返回当前配置的关联窗口
func (s *CorrelationService) Window() time.Duration {
	return s.window
}
