package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims - claims токена оператора консоли (или хоста бота).
type OperatorClaims struct {
	OperatorID string          `json:"operator_id"`
	Groups     map[string]bool `json:"groups,omitempty"` // "*" - все группы
	jwt.RegisteredClaims
}

// CanManage проверяет, выдан ли токен на управление группой.
// Пустой список групп означает доступ ко всем.
func (c *OperatorClaims) CanManage(groupID string) bool {
	if len(c.Groups) == 0 || c.Groups["*"] {
		return true
	}
	return c.Groups[groupID]
}
