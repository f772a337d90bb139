package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "guard"
)

// Каналы Pub/Sub (события хоста)
const (
	// RedisChanMemberJoin - хост бота публикует сюда "group_id:user_id" при вступлении в группу.
	RedisChanMemberJoin = RedisNamespace + ":events:member-join"
)

// JoinEventPayload формирует сообщение для RedisChanMemberJoin.
func JoinEventPayload(groupID, subjectID string) string {
	return fmt.Sprintf("%s:%s", groupID, subjectID)
}
