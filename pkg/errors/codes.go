package errors

// 공통 에러 코드 정의
const (
	// 일반적인 에러 코드
	ErrInternal        = "INTERNAL"
	ErrNotFound        = "NOT_FOUND"
	ErrInvalidArgument = "INVALID_ARGUMENT"
	ErrUnauthenticated = "UNAUTHENTICATED"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrConflict        = "CONFLICT"
	ErrTimeout         = "TIMEOUT"
	ErrNotImplemented  = "NOT_IMPLEMENTED"

	// 결제 관련 에러 코드
	ErrUnavailable     = "UNAVAILABLE"      // 일시적인 외부 장애 (네트워크, rate limit)
	ErrPaymentDeclined = "PAYMENT_DECLINED" // 결제 대행사의 최종 거절
)
