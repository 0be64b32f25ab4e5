package errors

import (
	"go.uber.org/zap"
)

// LogError는 에러를 구조화된 로그로 기록합니다
func LogError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+2)
	allFields = append(allFields, zap.Error(err), zap.String("error_code", CodeOf(err)))
	allFields = append(allFields, fields...)

	// 일시적 장애와 충돌은 경고 수준으로 기록
	switch CodeOf(err) {
	case ErrUnavailable, ErrConflict, ErrNotFound:
		logger.Warn(msg, allFields...)
	default:
		logger.Error(msg, allFields...)
	}
}
