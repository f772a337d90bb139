package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JoinHandler - получатель событий вступления (Guard.OnMemberJoin).
type JoinHandler func(ctx context.Context, groupID, subjectID string)

// ListenJoinEventsResilient - "живучая" подписка на события вступления из Redis.
// Переподключается при обрыве; возвращается только по отмене ctx.
func ListenJoinEventsResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onJoin JoinHandler,
) {
	logger = logger.With(zap.String("mod", "join-listener"), zap.String("chan", channel))

	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.Error(err))
			if !pause(ctx, 5*time.Second) {
				return
			}
			continue
		}
		logger.Info("join listener subscribed")

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				groupID, subjectID, ok := ParseJoinPayload(msg.Payload)
				if !ok {
					logger.Error("invalid join event format", zap.String("payload", msg.Payload))
					continue
				}

				// Каждое событие в своей горутине: ожидание лимитера
				// не должно задерживать чтение канала
				evCtx := WithTraceID(ctx, uuid.New().String())
				go onJoin(evCtx, groupID, subjectID)
			}
		}

		pubsub.Close()
		if !pause(ctx, 1*time.Second) {
			return
		}
	}
}

// ParseJoinPayload разбирает формат "group_id:user_id".
func ParseJoinPayload(payload string) (groupID, subjectID string, ok bool) {
	parts := strings.Split(strings.TrimSpace(payload), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// pause - сон с учетом отмены; false, если контекст отменен.
func pause(ctx context.Context, d time.Duration) bool {
	return sleepCtx(ctx, d) == nil
}
