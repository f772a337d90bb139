package engine

import (
	"strconv"
	"strings"

	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
)

// ParseThreshold разбирает число секунд из текста команды.
// Нечисловое значение - та же ошибка, что и выход за диапазон.
func ParseThreshold(raw string) (int, error) {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, domain.ErrInvalidThreshold
	}
	return seconds, nil
}
