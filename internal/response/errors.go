package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired     ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid      ErrCode = "TOKEN_INVALID"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAnswer  ErrCode = "INVALID_ANSWER"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrAttemptNotFound        ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAttemptActiveElsewhere ErrCode = "ATTEMPT_ACTIVE_ELSEWHERE"
	ErrAttemptNotInProgress   ErrCode = "ATTEMPT_NOT_IN_PROGRESS"
	ErrSubmitInProgress       ErrCode = "SUBMIT_IN_PROGRESS"
	ErrSubmitFailed           ErrCode = "SUBMIT_FAILED"
	ErrUnknownQuestion        ErrCode = "UNKNOWN_QUESTION"
	ErrExamNotAvailable       ErrCode = "EXAM_NOT_AVAILABLE"
	ErrNoQuestions            ErrCode = "NO_QUESTIONS"
	ErrUpstreamUnavailable    ErrCode = "UPSTREAM_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidAnswer:
		return "Jawaban tidak sesuai dengan jenis soal."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrAttemptNotFound:
		return "Tidak ada ujian yang sedang dikerjakan untuk paket soal ini."
	case ErrAttemptActiveElsewhere:
		return "Ujian ini sedang dikerjakan di perangkat lain."
	case ErrAttemptNotInProgress:
		return "Ujian ini tidak sedang berlangsung."
	case ErrSubmitInProgress:
		return "Jawaban sedang dikumpulkan. Mohon tunggu."
	case ErrSubmitFailed:
		return "Gagal mengumpulkan jawaban. Silakan coba lagi."
	case ErrUnknownQuestion:
		return "Soal tidak ditemukan pada paket soal ini."
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrUpstreamUnavailable:
		return "Server ujian tidak dapat dihubungi. Silakan coba lagi nanti."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
